package core

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	fpmath "github.com/AkintolaX/sureinv-financing/internal/math"
	"github.com/AkintolaX/sureinv-financing/internal/risk"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

// plan is a validated, not yet committed state change
type plan struct {
	mutation      state.Mutation
	build         func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error)
	notifications []event.Notification
}

// plan validates instr against a consistent read of current state. No lock
// is held; commit re-checks the invoice version.
func (c *SettlementCore) plan(instr event.Instruction) (*plan, error) {
	global := c.store.Global()
	if _, ok := instr.(*event.Initialize); !ok && !global.Initialized {
		return nil, failure.ErrNotInitialized
	}

	switch in := instr.(type) {
	case *event.Initialize:
		return c.planInitialize(in, global)
	case *event.CreateInvoice:
		return c.planCreate(in)
	case *event.FundInvoice:
		return c.planFund(in)
	case *event.RepayInvoice:
		return c.planRepay(in)
	case *event.MarkDefaulted:
		return c.planMarkDefaulted(in)
	case *event.ClaimInsurance:
		return c.planClaim(in)
	case *event.TopUpPool:
		return c.planTopUp(in)
	case *event.DepositTokens:
		return c.planDeposit(in, global)
	default:
		return nil, fmt.Errorf("%w: unsupported instruction %T", failure.ErrInvalidAttributes, instr)
	}
}

func (c *SettlementCore) planInitialize(in *event.Initialize, global state.GlobalState) (*plan, error) {
	if global.Initialized {
		return nil, failure.ErrAlreadyInitialized
	}
	authority := in.Authority
	if authority == uuid.Nil {
		authority = in.Caller()
	}
	if authority != in.Caller() {
		return nil, fmt.Errorf("%w: authority must sign initialize", failure.ErrUnauthorized)
	}
	if _, ok := ledger.GetAssetID(in.SettlementToken); !ok {
		return nil, fmt.Errorf("%w: unknown settlement token %q", failure.ErrInvalidAttributes, in.SettlementToken)
	}

	return &plan{
		mutation: state.Mutation{
			Initialize: &state.GlobalState{
				Initialized:     true,
				Authority:       authority,
				SettlementToken: in.SettlementToken,
			},
		},
		notifications: []event.Notification{{Type: event.NotificationInitialized, Actor: authority}},
	}, nil
}

func (c *SettlementCore) planCreate(in *event.CreateInvoice) (*plan, error) {
	now := in.Timestamp()
	switch {
	case in.Amount <= 0 || in.Amount > c.params.MaxPrincipal:
		return nil, fmt.Errorf("%w: amount %d outside (0,%d]", failure.ErrInvalidAttributes, in.Amount, c.params.MaxPrincipal)
	case in.DueDate <= now:
		return nil, fmt.Errorf("%w: due date %d not after %d", failure.ErrInvalidAttributes, in.DueDate, now)
	case in.DueDate-now > c.params.MaxTermSeconds:
		return nil, fmt.Errorf("%w: term %ds exceeds %ds", failure.ErrInvalidAttributes, in.DueDate-now, c.params.MaxTermSeconds)
	}
	if n := len(in.DebtorInfo); n < c.params.DebtorInfoMinLen || n > c.params.DebtorInfoMaxLen {
		return nil, fmt.Errorf("%w: debtor info length %d outside [%d,%d]",
			failure.ErrInvalidAttributes, n, c.params.DebtorInfoMinLen, c.params.DebtorInfoMaxLen)
	}

	credit := in.CreditScore
	if credit == 0 {
		credit = risk.SimulateCreditScore(in.Caller())
	}
	attrs := risk.Attributes{
		Principal:      in.Amount,
		TermSeconds:    in.DueDate - now,
		CreditScore:    credit,
		IndustryFactor: in.IndustryFactor,
		HistoryFactor:  in.HistoryFactor,
	}
	a, err := risk.Score(c.params.Risk, attrs)
	if err != nil {
		return nil, err
	}

	inv := &state.Invoice{
		ExternalRef:    in.InvoiceID,
		BusinessOwner:  in.Caller(),
		DebtorInfo:     in.DebtorInfo,
		Principal:      in.Amount,
		DueDate:        in.DueDate,
		CreatedAt:      now,
		CreditScore:    credit,
		IndustryFactor: in.IndustryFactor,
		HistoryFactor:  in.HistoryFactor,
		RiskScore:      a.RiskScore,
		CoverageBps:    a.CoverageBps,
		PremiumRateBps: a.PremiumRateBps,
		YieldRateBps:   a.YieldRateBps,
		Premium:        a.Premium,
		ExpectedYield:  a.Yield,
		State:          state.InvoiceStateCreated,
	}

	return &plan{
		mutation: state.Mutation{Invoice: inv, AllocateInvoiceID: true},
		notifications: []event.Notification{{
			Type:        event.NotificationInvoiceCreated,
			State:       state.InvoiceStateCreated.String(),
			Principal:   inv.Principal,
			Premium:     inv.Premium,
			Yield:       inv.ExpectedYield,
			RiskScore:   inv.RiskScore,
			CoverageBps: inv.CoverageBps,
		}},
	}, nil
}

func (c *SettlementCore) planFund(in *event.FundInvoice) (*plan, error) {
	inv, err := c.GetInvoice(in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.State != state.InvoiceStateCreated {
		return nil, fmt.Errorf("%w: invoice %d is %s", failure.ErrAlreadyFunded, inv.ID, inv.State)
	}
	if in.Caller() == inv.BusinessOwner {
		return nil, fmt.Errorf("%w: invoice %d", failure.ErrSelfFunding, inv.ID)
	}
	if in.Amount != inv.Principal {
		return nil, fmt.Errorf("%w: funding amount %d must equal principal %d",
			failure.ErrInvalidAttributes, in.Amount, inv.Principal)
	}

	expected := inv.Version
	if err := inv.MarkFunded(in.Caller(), in.Timestamp()); err != nil {
		return nil, err
	}

	investor, business := in.Caller(), inv.BusinessOwner
	id, principal, premium := inv.ID, inv.Principal, inv.Premium
	return &plan{
		mutation: state.Mutation{
			Invoice:         inv,
			ExpectedVersion: expected,
			FundedPrincipal: principal,
			PoolPremium:     premium,
		},
		build: func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error) {
			return gen.GenerateFunding(ref, id, investor, business, principal, premium)
		},
		notifications: []event.Notification{{
			Type:      event.NotificationInvoiceFunded,
			State:     state.InvoiceStateFunded.String(),
			Amount:    principal,
			Principal: principal,
			Premium:   premium,
			Yield:     inv.ExpectedYield,
		}},
	}, nil
}

// RepaymentQuote is the amount due to settle a funded invoice at a given time.
type RepaymentQuote struct {
	ledger.RepaymentAmounts
	OverdueDays int64
	PastGrace   bool
}

func (c *SettlementCore) quote(inv *state.Invoice, now int64) RepaymentQuote {
	q := RepaymentQuote{
		RepaymentAmounts: ledger.RepaymentAmounts{
			Principal:   inv.Principal,
			Yield:       inv.ExpectedYield,
			LateFee:     inv.LateFee,
			ProtocolFee: fpmath.ApplyBps(inv.Premium, c.params.ProtocolFeeBps),
		},
	}
	grace := inv.GraceDeadline(c.params.GracePeriodSeconds)
	if now > grace {
		q.PastGrace = true
		q.OverdueDays = fpmath.OverdueDays(now, grace)
		fee := fpmath.ComputeLateFee(inv.Principal, c.params.LateFeeDailyBps, q.OverdueDays, c.params.LateFeeCapBps)
		if fee > q.LateFee {
			q.LateFee = fee
		}
	}
	return q
}

// QuoteRepayment reports what repay would charge at now, without committing.
func (c *SettlementCore) QuoteRepayment(invoiceID uint64, now int64) (RepaymentQuote, error) {
	inv, err := c.GetInvoice(invoiceID)
	if err != nil {
		return RepaymentQuote{}, err
	}
	if inv.State != state.InvoiceStateFunded {
		return RepaymentQuote{}, fmt.Errorf("%w: invoice %d is %s", failure.ErrNotFunded, inv.ID, inv.State)
	}
	return c.quote(inv, now), nil
}

func (c *SettlementCore) planRepay(in *event.RepayInvoice) (*plan, error) {
	inv, err := c.GetInvoice(in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.State != state.InvoiceStateFunded {
		return nil, fmt.Errorf("%w: invoice %d is %s", failure.ErrNotFunded, inv.ID, inv.State)
	}
	if in.Caller() != inv.BusinessOwner {
		return nil, fmt.Errorf("%w: only the business owner may repay", failure.ErrUnauthorized)
	}

	q := c.quote(inv, in.Timestamp())
	total := q.Total()
	if in.RepaymentAmount < total {
		return nil, fmt.Errorf("%w: authorized %d, due %d", failure.ErrInsufficientFunds, in.RepaymentAmount, total)
	}

	expected := inv.Version
	if err := inv.MarkRepaid(in.Timestamp(), total, q.LateFee, q.ProtocolFee); err != nil {
		return nil, err
	}

	business, investor := inv.BusinessOwner, inv.Investor
	amounts := q.RepaymentAmounts
	return &plan{
		mutation: state.Mutation{
			Invoice:         inv,
			ExpectedVersion: expected,
			ProtocolFees:    amounts.ProtocolFee,
		},
		build: func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error) {
			return gen.GenerateRepayment(ref, business, investor, amounts)
		},
		notifications: []event.Notification{{
			Type:        event.NotificationInvoiceRepaid,
			State:       state.InvoiceStateRepaid.String(),
			Amount:      total,
			Principal:   amounts.Principal,
			Yield:       amounts.Yield,
			LateFee:     amounts.LateFee,
			ProtocolFee: amounts.ProtocolFee,
		}},
	}, nil
}

func (c *SettlementCore) planMarkDefaulted(in *event.MarkDefaulted) (*plan, error) {
	inv, err := c.GetInvoice(in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.State != state.InvoiceStateFunded {
		return nil, fmt.Errorf("%w: invoice %d is %s", failure.ErrNotFunded, inv.ID, inv.State)
	}
	if !inv.IsPastGrace(in.Timestamp(), c.params.GracePeriodSeconds) {
		return nil, fmt.Errorf("%w: grace ends at %d", failure.ErrNotYetDue, inv.GraceDeadline(c.params.GracePeriodSeconds))
	}

	expected := inv.Version
	if err := inv.MarkDefaulted(in.Timestamp()); err != nil {
		return nil, err
	}
	return &plan{
		mutation: state.Mutation{Invoice: inv, ExpectedVersion: expected},
		notifications: []event.Notification{{
			Type:      event.NotificationInvoiceDefaulted,
			State:     state.InvoiceStateDefaulted.String(),
			Principal: inv.Principal,
		}},
	}, nil
}

// planClaim pays the coverage share of principal to the investor. A funded
// invoice past grace is defaulted and claimed in the same commit.
func (c *SettlementCore) planClaim(in *event.ClaimInsurance) (*plan, error) {
	inv, err := c.GetInvoice(in.InvoiceID)
	if err != nil {
		return nil, err
	}

	var notes []event.Notification
	switch inv.State {
	case state.InvoiceStateDefaulted:
	case state.InvoiceStateFunded:
		if !inv.IsPastGrace(in.Timestamp(), c.params.GracePeriodSeconds) {
			return nil, fmt.Errorf("%w: grace ends at %d", failure.ErrNotYetDue, inv.GraceDeadline(c.params.GracePeriodSeconds))
		}
	default:
		return nil, fmt.Errorf("%w: invoice %d is %s", failure.ErrNotDefaulted, inv.ID, inv.State)
	}
	if in.Caller() != inv.Investor {
		return nil, fmt.Errorf("%w: only the investor may claim", failure.ErrUnauthorized)
	}

	payout := fpmath.ApplyBps(inv.Principal, inv.CoverageBps)
	if pool := c.store.Pool(); !pool.CanDebit(payout) {
		return nil, fmt.Errorf("%w: balance %d, payout %d", failure.ErrPoolInsufficient, pool.Balance, payout)
	}

	expected := inv.Version
	if inv.State == state.InvoiceStateFunded {
		if err := inv.MarkDefaulted(in.Timestamp()); err != nil {
			return nil, err
		}
		notes = append(notes, event.Notification{
			Type:      event.NotificationInvoiceDefaulted,
			State:     state.InvoiceStateDefaulted.String(),
			Principal: inv.Principal,
		})
	}
	if err := inv.MarkClaimed(in.Timestamp(), payout); err != nil {
		return nil, err
	}
	notes = append(notes, event.Notification{
		Type:        event.NotificationInsuranceClaimed,
		State:       state.InvoiceStateClaimed.String(),
		Amount:      payout,
		Payout:      payout,
		Principal:   inv.Principal,
		CoverageBps: inv.CoverageBps,
	})

	investor := inv.Investor
	return &plan{
		mutation: state.Mutation{
			Invoice:         inv,
			ExpectedVersion: expected,
			PoolPayout:      payout,
			InsurancePaid:   payout,
		},
		build: func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error) {
			return gen.GenerateInsurancePayout(ref, investor, payout)
		},
		notifications: notes,
	}, nil
}

func (c *SettlementCore) planTopUp(in *event.TopUpPool) (*plan, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: top-up amount must be positive", failure.ErrInvalidAttributes)
	}
	from, amount := in.Caller(), in.Amount
	return &plan{
		mutation: state.Mutation{PoolTopUp: amount},
		build: func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error) {
			return gen.GeneratePoolTopUp(ref, from, amount)
		},
		notifications: []event.Notification{{Type: event.NotificationPoolToppedUp, Amount: amount}},
	}, nil
}

func (c *SettlementCore) planDeposit(in *event.DepositTokens, global state.GlobalState) (*plan, error) {
	if in.Caller() != global.Authority {
		return nil, fmt.Errorf("%w: only the authority may deposit", failure.ErrUnauthorized)
	}
	if in.Owner == uuid.Nil {
		return nil, fmt.Errorf("%w: deposit owner required", failure.ErrInvalidAttributes)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", failure.ErrInvalidAttributes)
	}
	owner, amount := in.Owner, in.Amount
	return &plan{
		build: func(ref ledger.BatchRef, gen *ledger.JournalGenerator) (*ledger.Batch, error) {
			return gen.GenerateDeposit(ref, owner, amount)
		},
		notifications: []event.Notification{{Type: event.NotificationTokensDeposited, Actor: owner, Amount: amount}},
	}, nil
}
