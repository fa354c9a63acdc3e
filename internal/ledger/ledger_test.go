package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
)

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	return id
}

// mustBatch is called as mustBatch(t)(gen.GenerateX(...)).
func mustBatch(t *testing.T) func(*ledger.Batch, error) *ledger.Batch {
	t.Helper()
	return func(b *ledger.Batch, err error) *ledger.Batch {
		t.Helper()
		if err != nil {
			t.Fatalf("generate batch: %v", err)
		}
		return b
	}
}

func fundedLedger(t *testing.T, owners map[uuid.UUID]int64) *ledger.TokenLedger {
	t.Helper()
	tl := ledger.NewTokenLedger()
	gen := ledger.NewJournalGenerator(usdc(t))
	for owner, amount := range owners {
		b := mustBatch(t)(gen.GenerateDeposit(ledger.BatchRef{EventRef: "deposit-" + owner.String()}, owner, amount))
		if err := tl.Transfer(context.Background(), b); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return tl
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_WalletPath(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewWalletKey(owner, usdc(t))

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPaths(t *testing.T) {
	assetID := usdc(t)
	cases := map[string]ledger.AccountKey{
		"system:insurance_pool:USDC": ledger.InsurancePoolKey(assetID),
		"system:protocol_fees:USDC":  ledger.ProtocolFeesKey(assetID),
		"system:escrow:42:USDC":      ledger.NewEscrowKey(42, assetID),
		"external:deposits:USDC":     ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
	}
	for want, key := range cases {
		if got := key.AccountPath(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestAccountKey_EscrowPerInvoice(t *testing.T) {
	if ledger.NewEscrowKey(1, usdc(t)) == ledger.NewEscrowKey(2, usdc(t)) {
		t.Error("escrow accounts of different invoices must differ")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	assetID := usdc(t)
	for _, amount := range []int64{0, -100} {
		batchID := uuid.New()
		batch := &ledger.Batch{
			BatchID: batchID,
			Journals: []ledger.Journal{{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewWalletKey(uuid.New(), assetID),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
				AssetID:       assetID,
				Amount:        amount,
			}},
		}
		if err := batch.Validate(); err == nil {
			t.Errorf("amount %d should fail validation", amount)
		}
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID := usdc(t)
	same := ledger.NewWalletKey(uuid.New(), assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount: same, CreditAccount: same, AssetID: assetID, Amount: 100,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	assetID := usdc(t)
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       uuid.New(),
			DebitAccount:  ledger.NewWalletKey(uuid.New(), assetID),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
			AssetID:       assetID,
			Amount:        100,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateFunding_EscrowNetsToZero(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdc(t))
	investor, business := uuid.New(), uuid.New()

	batch := mustBatch(t)(gen.GenerateFunding(ledger.BatchRef{EventRef: "fund-1", Sequence: 3}, 7, investor, business, 10_000, 23))
	if len(batch.Journals) != 3 {
		t.Fatalf("journals: got %d, want 3", len(batch.Journals))
	}

	deltas := batch.NetDeltas()
	if d := deltas[ledger.NewEscrowKey(7, usdc(t))]; d != 0 {
		t.Errorf("escrow delta: got %d, want 0", d)
	}
	if d := deltas[ledger.NewWalletKey(investor, usdc(t))]; d != -10_023 {
		t.Errorf("investor delta: got %d, want -10023", d)
	}
	if d := deltas[ledger.NewWalletKey(business, usdc(t))]; d != 10_000 {
		t.Errorf("business delta: got %d, want 10000", d)
	}
	if d := deltas[ledger.InsurancePoolKey(usdc(t))]; d != 23 {
		t.Errorf("pool delta: got %d, want 23", d)
	}
}

func TestGenerateRepayment_RoundTrip(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdc(t))
	business, investor := uuid.New(), uuid.New()
	amounts := ledger.RepaymentAmounts{Principal: 10_000, Yield: 64, LateFee: 15, ProtocolFee: 2}

	batch := mustBatch(t)(gen.GenerateRepayment(ledger.BatchRef{EventRef: "repay-1"}, business, investor, amounts))
	deltas := batch.NetDeltas()

	debited := -deltas[ledger.NewWalletKey(business, usdc(t))]
	credited := deltas[ledger.NewWalletKey(investor, usdc(t))]
	fee := deltas[ledger.ProtocolFeesKey(usdc(t))]

	if debited != amounts.Total() {
		t.Errorf("business debit: got %d, want %d", debited, amounts.Total())
	}
	if credited+fee != debited {
		t.Errorf("investor credit %d + fee %d != business debit %d", credited, fee, debited)
	}
}

func TestGenerateRepayment_SkipsZeroLegs(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdc(t))
	batch := mustBatch(t)(gen.GenerateRepayment(ledger.BatchRef{EventRef: "repay-2"}, uuid.New(), uuid.New(),
		ledger.RepaymentAmounts{Principal: 10_000, Yield: 64}))
	if len(batch.Journals) != 2 {
		t.Errorf("journals: got %d, want 2", len(batch.Journals))
	}
	if err := batch.Validate(); err != nil {
		t.Errorf("valid batch should pass: %v", err)
	}
}

func TestGenerator_DeterministicIDs(t *testing.T) {
	gen := ledger.NewJournalGenerator(usdc(t))
	owner := uuid.New()
	ref := ledger.BatchRef{EventRef: "deposit-abc", Sequence: 1}

	a := mustBatch(t)(gen.GenerateDeposit(ref, owner, 500))
	b := mustBatch(t)(gen.GenerateDeposit(ref, owner, 500))
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same event ref should produce identical batch and journal IDs")
	}
}

// ============================================================================
// Test: TokenLedger
// ============================================================================

func TestTokenLedger_InsufficientFunds_NoPartialApply(t *testing.T) {
	investor, business := uuid.New(), uuid.New()
	tl := fundedLedger(t, map[uuid.UUID]int64{investor: 10_000})
	gen := ledger.NewJournalGenerator(usdc(t))

	// principal is covered but the premium is not
	batch := mustBatch(t)(gen.GenerateFunding(ledger.BatchRef{EventRef: "fund-x"}, 1, investor, business, 10_000, 23))
	err := tl.Transfer(context.Background(), batch)
	if !errors.Is(err, failure.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	if got := tl.WalletBalance(investor, usdc(t)); got != 10_000 {
		t.Errorf("investor balance after failed transfer: got %d, want 10000", got)
	}
	if got := tl.WalletBalance(business, usdc(t)); got != 0 {
		t.Errorf("business balance after failed transfer: got %d, want 0", got)
	}
}

func TestTokenLedger_PoolShortfall(t *testing.T) {
	tl := ledger.NewTokenLedger()
	gen := ledger.NewJournalGenerator(usdc(t))

	batch := mustBatch(t)(gen.GenerateInsurancePayout(ledger.BatchRef{EventRef: "claim-1"}, uuid.New(), 8_000))
	err := tl.Transfer(context.Background(), batch)
	if !errors.Is(err, failure.ErrPoolInsufficient) {
		t.Fatalf("got %v, want ErrPoolInsufficient", err)
	}
}

func TestTokenLedger_CancelledContext(t *testing.T) {
	tl := ledger.NewTokenLedger()
	gen := ledger.NewJournalGenerator(usdc(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := mustBatch(t)(gen.GenerateDeposit(ledger.BatchRef{EventRef: "d"}, uuid.New(), 1))
	if err := tl.Transfer(ctx, batch); err == nil {
		t.Error("cancelled context should abort transfer")
	}
}

func TestTokenLedger_EntriesRestore(t *testing.T) {
	owner := uuid.New()
	tl := fundedLedger(t, map[uuid.UUID]int64{owner: 999})

	entries := tl.Entries()
	restored := ledger.NewTokenLedger()
	restored.Restore(entries)

	if got := restored.WalletBalance(owner, usdc(t)); got != 999 {
		t.Errorf("restored balance: got %d, want 999", got)
	}
	if err := restored.Validator().ValidateGlobalBalance(); err != nil {
		t.Errorf("restored ledger should be zero-sum: %v", err)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_AfterFunding(t *testing.T) {
	investor, business := uuid.New(), uuid.New()
	tl := fundedLedger(t, map[uuid.UUID]int64{investor: 20_000})
	gen := ledger.NewJournalGenerator(usdc(t))

	batch := mustBatch(t)(gen.GenerateFunding(ledger.BatchRef{EventRef: "fund-ok"}, 9, investor, business, 10_000, 23))
	if err := tl.Transfer(context.Background(), batch); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	v := tl.Validator()
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if err := v.ValidateEscrowZero(9, usdc(t)); err != nil {
		t.Errorf("escrow: %v", err)
	}
	if err := v.ValidatePoolMatches(23, usdc(t)); err != nil {
		t.Errorf("pool: %v", err)
	}
	if err := v.ValidatePoolMatches(24, usdc(t)); err == nil {
		t.Error("pool mismatch should be reported")
	}
}
