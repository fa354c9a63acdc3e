package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateEscrowZero verifies an invoice escrow has been fully passed through
func (v *InvariantValidator) ValidateEscrowZero(invoiceID uint64, assetID AssetID) error {
	balance := v.tracker.GetBalance(NewEscrowKey(invoiceID, assetID))
	if balance != 0 {
		return fmt.Errorf("escrow for invoice %d has non-zero balance: %d", invoiceID, balance)
	}
	return nil
}

// ValidatePoolMatches verifies the pool account equals the pool state balance
func (v *InvariantValidator) ValidatePoolMatches(poolBalance int64, assetID AssetID) error {
	key := InsurancePoolKey(assetID)
	if err := v.tracker.ValidateNonNegative(key); err != nil {
		return err
	}
	if got := v.tracker.GetBalance(key); got != poolBalance {
		return fmt.Errorf("insurance pool account %d != pool state %d", got, poolBalance)
	}
	return nil
}

// ValidateProtocolFeesMatch verifies the fee account equals the accumulated fee counter
func (v *InvariantValidator) ValidateProtocolFeesMatch(accumulated int64, assetID AssetID) error {
	if got := v.tracker.GetBalance(ProtocolFeesKey(assetID)); got != accumulated {
		return fmt.Errorf("protocol fee account %d != accumulated fees %d", got, accumulated)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
