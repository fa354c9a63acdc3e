package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// journalNamespace seeds deterministic batch/journal IDs so replaying an
// instruction regenerates identical rows.
var journalNamespace = uuid.MustParse("6f1c2a4e-3b0d-4c59-9d7e-5a8b1c0e2f37")

// BatchRef identifies the instruction a batch is generated for.
type BatchRef struct {
	EventRef  string // idempotency key of the instruction
	Sequence  int64
	Timestamp int64 // unix seconds
}

// JournalGenerator creates balanced journal batches for settlement flows
type JournalGenerator struct {
	assetID AssetID
}

func NewJournalGenerator(assetID AssetID) *JournalGenerator {
	return &JournalGenerator{assetID: assetID}
}

func (jg *JournalGenerator) AssetID() AssetID { return jg.assetID }

type leg struct {
	debit  AccountKey
	credit AccountKey
	amount int64
	typ    JournalType
}

func (jg *JournalGenerator) build(ref BatchRef, legs []leg) (*Batch, error) {
	batchID := uuid.NewSHA1(journalNamespace, []byte(ref.EventRef))
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for i, l := range legs {
		if l.amount == 0 {
			continue
		}
		if l.amount < 0 {
			return nil, fmt.Errorf("%s leg has negative amount %d", l.typ, l.amount)
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", i))),
			BatchID:       batchID,
			EventRef:      ref.EventRef,
			Sequence:      ref.Sequence,
			DebitAccount:  l.debit,
			CreditAccount: l.credit,
			AssetID:       jg.assetID,
			Amount:        l.amount,
			JournalType:   l.typ,
			Timestamp:     ref.Timestamp,
		})
	}
	return batch, nil
}

// GenerateDeposit moves funds: external:deposits → user:wallet
func (jg *JournalGenerator) GenerateDeposit(ref BatchRef, owner uuid.UUID, amount int64) (*Batch, error) {
	return jg.build(ref, []leg{{
		debit:  NewWalletKey(owner, jg.assetID),
		credit: NewExternalAccountKey(SubTypeExternalDeposits, jg.assetID),
		amount: amount,
		typ:    JournalTypeDeposit,
	}})
}

// GeneratePoolTopUp moves funds: user:wallet → system:insurance_pool
func (jg *JournalGenerator) GeneratePoolTopUp(ref BatchRef, from uuid.UUID, amount int64) (*Batch, error) {
	return jg.build(ref, []leg{{
		debit:  InsurancePoolKey(jg.assetID),
		credit: NewWalletKey(from, jg.assetID),
		amount: amount,
		typ:    JournalTypePoolTopUp,
	}})
}

// GenerateFunding escrows the principal and collects the premium:
//
//	investor → escrow (principal), escrow → business (principal),
//	investor → insurance pool (premium)
func (jg *JournalGenerator) GenerateFunding(
	ref BatchRef,
	invoiceID uint64,
	investor, business uuid.UUID,
	principal, premium int64,
) (*Batch, error) {
	escrow := NewEscrowKey(invoiceID, jg.assetID)
	investorWallet := NewWalletKey(investor, jg.assetID)

	return jg.build(ref, []leg{
		{debit: escrow, credit: investorWallet, amount: principal, typ: JournalTypePrincipalEscrow},
		{debit: NewWalletKey(business, jg.assetID), credit: escrow, amount: principal, typ: JournalTypePrincipalDisburse},
		{debit: InsurancePoolKey(jg.assetID), credit: investorWallet, amount: premium, typ: JournalTypePremiumCollect},
	})
}

// RepaymentAmounts are the components of an invoice repayment.
type RepaymentAmounts struct {
	Principal   int64
	Yield       int64
	LateFee     int64
	ProtocolFee int64
}

// Total is the amount debited from the business.
func (r RepaymentAmounts) Total() int64 {
	return r.Principal + r.Yield + r.LateFee + r.ProtocolFee
}

// InvestorCredit is the amount credited to the investor.
func (r RepaymentAmounts) InvestorCredit() int64 {
	return r.Principal + r.Yield + r.LateFee
}

// GenerateRepayment moves funds: business → investor (principal, yield, late
// fee) and business → system:protocol_fees (protocol fee)
func (jg *JournalGenerator) GenerateRepayment(
	ref BatchRef,
	business, investor uuid.UUID,
	amounts RepaymentAmounts,
) (*Batch, error) {
	businessWallet := NewWalletKey(business, jg.assetID)
	investorWallet := NewWalletKey(investor, jg.assetID)

	return jg.build(ref, []leg{
		{debit: investorWallet, credit: businessWallet, amount: amounts.Principal, typ: JournalTypeRepayPrincipal},
		{debit: investorWallet, credit: businessWallet, amount: amounts.Yield, typ: JournalTypeRepayYield},
		{debit: investorWallet, credit: businessWallet, amount: amounts.LateFee, typ: JournalTypeRepayLateFee},
		{debit: ProtocolFeesKey(jg.assetID), credit: businessWallet, amount: amounts.ProtocolFee, typ: JournalTypeProtocolFee},
	})
}

// GenerateInsurancePayout moves funds: system:insurance_pool → investor
func (jg *JournalGenerator) GenerateInsurancePayout(ref BatchRef, investor uuid.UUID, payout int64) (*Batch, error) {
	return jg.build(ref, []leg{{
		debit:  NewWalletKey(investor, jg.assetID),
		credit: InsurancePoolKey(jg.assetID),
		amount: payout,
		typ:    JournalTypeInsurancePayout,
	}})
}
