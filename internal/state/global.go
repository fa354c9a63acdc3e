package state

import "github.com/google/uuid"

// GlobalState is the singleton protocol record, created once by initialize
type GlobalState struct {
	Initialized        bool
	Authority          uuid.UUID
	SettlementToken    string // asset symbol, e.g. "USDC"
	InvoiceCounter     uint64 // last assigned invoice ID
	ProtocolFeeBalance int64  // accumulated protocol fees
	TotalFunded        int64  // cumulative principal funded
	TotalInsurancePaid int64  // cumulative insurance payouts
}

// CanonicalBytes for deterministic hashing
func (g *GlobalState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	if g.Initialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, g.Authority[:]...)
	buf = append(buf, byte(len(g.SettlementToken)))
	buf = append(buf, []byte(g.SettlementToken)...)
	buf = appendUint64LE(buf, g.InvoiceCounter)
	buf = appendInt64LE(buf, g.ProtocolFeeBalance)
	buf = appendInt64LE(buf, g.TotalFunded)
	buf = appendInt64LE(buf, g.TotalInsurancePaid)
	return buf
}
