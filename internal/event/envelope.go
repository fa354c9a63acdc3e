package event

import "github.com/google/uuid"

// InstructionType discriminator for instruction payloads
type InstructionType int32

const (
	InstructionTypeUnknown InstructionType = iota
	InstructionTypeInitialize
	InstructionTypeCreateInvoice
	InstructionTypeFundInvoice
	InstructionTypeRepayInvoice
	InstructionTypeMarkDefaulted
	InstructionTypeClaimInsurance
	InstructionTypeTopUpPool
	InstructionTypeDepositTokens
)

var instructionTypeNames = map[InstructionType]string{
	InstructionTypeInitialize:     "Initialize",
	InstructionTypeCreateInvoice:  "CreateInvoice",
	InstructionTypeFundInvoice:    "FundInvoice",
	InstructionTypeRepayInvoice:   "RepayInvoice",
	InstructionTypeMarkDefaulted:  "MarkDefaulted",
	InstructionTypeClaimInsurance: "ClaimInsurance",
	InstructionTypeTopUpPool:      "TopUpPool",
	InstructionTypeDepositTokens:  "DepositTokens",
}

func (t InstructionType) String() string {
	if name, ok := instructionTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseInstructionType is the inverse of String
func ParseInstructionType(name string) InstructionType {
	for t, n := range instructionTypeNames {
		if n == name {
			return t
		}
	}
	return InstructionTypeUnknown
}

// Envelope wraps every committed instruction in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the submitter
	IdempotencyKey string

	InstructionType InstructionType

	// Invoice context (0 for global instructions)
	InvoiceID uint64

	Caller uuid.UUID

	// Versioned input timestamp, unix seconds (NOT wall-clock)
	Timestamp int64

	// JSON-encoded instruction, re-executed on replay
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}
