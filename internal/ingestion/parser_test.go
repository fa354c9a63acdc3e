package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/ingestion"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/state"
)

var quiet = zerolog.New(io.Discard)

func rawFromJSON(t *testing.T, typ event.InstructionType, v interface{}) ingestion.RawInstruction {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawInstruction{
		Subject:         ingestion.SubjectFor(typ),
		InstructionType: typ,
		Data:            data,
		Timestamp:       time.Unix(1_700_000_000, 0),
		AckFunc:         func() {},
		NakFunc:         func() {},
		TermFunc:        func() {},
	}
}

// ===== Parser =====

func TestParseCreateInvoice(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "create-1",
		"caller":          "660e8400-e29b-41d4-a716-446655440001",
		"invoice_id":      uint64(42),
		"amount":          int64(10_000),
		"due_date":        int64(1_702_592_100),
		"debtor_info":     "Acme Wholesale Ltd",
		"credit_score":    int64(720),
		"industry_factor": int64(5),
		"history_factor":  int64(90),
	}

	instr, err := ingestion.ParseRawInstruction(rawFromJSON(t, event.InstructionTypeCreateInvoice, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ci, ok := instr.(*event.CreateInvoice)
	if !ok {
		t.Fatalf("expected *event.CreateInvoice, got %T", instr)
	}
	if ci.InvoiceID != 42 {
		t.Errorf("invoice_id: got %d, want 42", ci.InvoiceID)
	}
	if ci.Amount != 10_000 {
		t.Errorf("amount: got %d, want 10_000", ci.Amount)
	}
	if ci.CreditScore != 720 || ci.IndustryFactor != 5 || ci.HistoryFactor != 90 {
		t.Errorf("risk inputs: got %d/%d/%d, want 720/5/90", ci.CreditScore, ci.IndustryFactor, ci.HistoryFactor)
	}
	if ci.Timestamp() != 0 {
		t.Errorf("timestamp: got %d, want unset until dispatch", ci.Timestamp())
	}
	if ci.Caller().String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("caller: got %s", ci.Caller())
	}
}

func TestParseFundInvoice(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "fund-1",
		"caller":          "770e8400-e29b-41d4-a716-446655440002",
		"invoice_id":      uint64(1),
		"amount":          int64(10_000),
	}

	instr, err := ingestion.ParseRawInstruction(rawFromJSON(t, event.InstructionTypeFundInvoice, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if instr.InvoiceRef() != 1 {
		t.Errorf("invoice ref: got %d, want 1", instr.InvoiceRef())
	}
}

func TestParseDepositTokens(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "dep-1",
		"caller":          "880e8400-e29b-41d4-a716-446655440003",
		"owner":           "770e8400-e29b-41d4-a716-446655440002",
		"amount":          int64(5_000),
	}
	instr, err := ingestion.ParseRawInstruction(rawFromJSON(t, event.InstructionTypeDepositTokens, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	d := instr.(*event.DepositTokens)
	if d.Owner.String() != "770e8400-e29b-41d4-a716-446655440002" || d.Amount != 5_000 {
		t.Errorf("got owner %s amount %d", d.Owner, d.Amount)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		typ     event.InstructionType
		payload map[string]interface{}
	}{
		{"missing key", event.InstructionTypeTopUpPool, map[string]interface{}{
			"caller": "880e8400-e29b-41d4-a716-446655440003", "amount": 1}},
		{"client timestamp", event.InstructionTypeClaimInsurance, map[string]interface{}{
			"idempotency_key": "k", "caller": "880e8400-e29b-41d4-a716-446655440003",
			"invoice_id": 1, "timestamp": 1_731_536_000}},
		{"bad caller", event.InstructionTypeTopUpPool, map[string]interface{}{
			"idempotency_key": "k", "caller": "not-a-uuid", "amount": 1}},
		{"unknown field", event.InstructionTypeTopUpPool, map[string]interface{}{
			"idempotency_key": "k", "caller": "880e8400-e29b-41d4-a716-446655440003", "amnt": 1}},
		{"unknown type", event.InstructionTypeUnknown, map[string]interface{}{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.ParseRawInstruction(rawFromJSON(t, tc.typ, tc.payload)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestDefaultSubjects_OnePerInstruction(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range ingestion.DefaultSubjects() {
		if !strings.HasPrefix(s.Subject, "sureinv.instructions.") {
			t.Errorf("subject %s outside instruction stream", s.Subject)
		}
		if seen[s.ConsumerName] {
			t.Errorf("duplicate consumer %s", s.ConsumerName)
		}
		seen[s.ConsumerName] = true
	}
	if len(seen) != 8 {
		t.Errorf("got %d subjects, want 8", len(seen))
	}
}

// ===== Dispatcher =====

type stubExecutor struct {
	err  error
	seen []event.Instruction
}

func (s *stubExecutor) Execute(_ context.Context, instr event.Instruction) (*core.Receipt, error) {
	s.seen = append(s.seen, instr)
	if s.err != nil {
		return nil, s.err
	}
	return &core.Receipt{Sequence: int64(len(s.seen))}, nil
}

type settled struct{ ack, nak, term int }

type fakeAuth struct {
	insecure bool
	tokens   map[string]uuid.UUID
}

func (f *fakeAuth) Insecure() bool { return f.insecure }

func (f *fakeAuth) Authenticate(authorization, callerID string) (uuid.UUID, bool, error) {
	if authorization == "" && callerID == "" {
		return uuid.Nil, false, nil
	}
	if id, ok := f.tokens[authorization]; ok {
		return id, true, nil
	}
	return uuid.Nil, false, errors.New("invalid token")
}

func dispatchOne(t *testing.T, execErr error, raw ingestion.RawInstruction) (settled, []event.Rejection) {
	t.Helper()
	s, rejs, _ := dispatchWith(t, nil, execErr, raw)
	return s, rejs
}

func dispatchWith(t *testing.T, auth ingestion.CallerAuthenticator, execErr error, raw ingestion.RawInstruction) (settled, []event.Rejection, *stubExecutor) {
	t.Helper()
	var s settled
	raw.AckFunc = func() { s.ack++ }
	raw.NakFunc = func() { s.nak++ }
	raw.TermFunc = func() { s.term++ }

	rawChan := make(chan ingestion.RawInstruction, 1)
	rejections := make(chan event.Rejection, 4)
	exec := &stubExecutor{err: execErr}
	d := ingestion.NewDispatcher(ingestion.NewSubmitter(exec, nil), auth, rawChan, rejections, nil, quiet)

	rawChan <- raw
	close(rawChan)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(rejections)

	var rejs []event.Rejection
	for r := range rejections {
		rejs = append(rejs, r)
	}
	return s, rejs, exec
}

func topUpRaw(t *testing.T) ingestion.RawInstruction {
	return rawFromJSON(t, event.InstructionTypeTopUpPool, map[string]interface{}{
		"idempotency_key": "top-1",
		"caller":          "880e8400-e29b-41d4-a716-446655440003",
		"amount":          int64(100),
	})
}

func TestDispatcher_AckOnCommit(t *testing.T) {
	s, rejs := dispatchOne(t, nil, topUpRaw(t))
	if s.ack != 1 || s.nak != 0 || len(rejs) != 0 {
		t.Errorf("got %+v with %d rejections, want a single ack", s, len(rejs))
	}
}

func TestDispatcher_RejectionPublishedAndAcked(t *testing.T) {
	err := fmt.Errorf("%w: authorized 1, due 2", failure.ErrInsufficientFunds)
	s, rejs := dispatchOne(t, err, topUpRaw(t))
	if s.ack != 1 {
		t.Errorf("got %+v, want ack", s)
	}
	if len(rejs) != 1 || rejs[0].Code != "InsufficientFunds" || rejs[0].IdempotencyKey != "top-1" {
		t.Errorf("got rejections %+v", rejs)
	}
}

func TestDispatcher_ConflictRedelivered(t *testing.T) {
	s, rejs := dispatchOne(t, failure.ErrConflict, topUpRaw(t))
	if s.nak != 1 || s.ack != 0 || len(rejs) != 0 {
		t.Errorf("got %+v with %d rejections, want a single nak", s, len(rejs))
	}
}

func TestDispatcher_DuplicateAckedSilently(t *testing.T) {
	s, rejs := dispatchOne(t, failure.ErrDuplicate, topUpRaw(t))
	if s.ack != 1 || len(rejs) != 0 {
		t.Errorf("got %+v with %d rejections", s, len(rejs))
	}
}

func TestDispatcher_InfrastructureErrorRedelivered(t *testing.T) {
	s, _ := dispatchOne(t, errors.New("context deadline exceeded"), topUpRaw(t))
	if s.nak != 1 {
		t.Errorf("got %+v, want nak", s)
	}
}

func TestDispatcher_UndecodableTerminated(t *testing.T) {
	raw := topUpRaw(t)
	raw.Data = []byte("{not json")
	s, _ := dispatchOne(t, nil, raw)
	if s.term != 1 || s.ack != 0 {
		t.Errorf("got %+v, want term", s)
	}
}

func TestDispatcher_StampsStreamTime(t *testing.T) {
	s, _, exec := dispatchWith(t, nil, nil, topUpRaw(t))
	if s.ack != 1 || len(exec.seen) != 1 {
		t.Fatalf("got %+v with %d executions", s, len(exec.seen))
	}
	if got := exec.seen[0].Timestamp(); got != 1_700_000_000 {
		t.Errorf("timestamp: got %d, want stream time 1700000000", got)
	}
}

func TestDispatcher_MissingCallerRejected(t *testing.T) {
	raw := rawFromJSON(t, event.InstructionTypeTopUpPool, map[string]interface{}{
		"idempotency_key": "top-2",
		"amount":          int64(100),
	})
	s, rejs, exec := dispatchWith(t, nil, nil, raw)
	if s.ack != 1 || len(exec.seen) != 0 {
		t.Errorf("got %+v with %d executions, want ack without execution", s, len(exec.seen))
	}
	if len(rejs) != 1 || rejs[0].Code != "Unauthorized" {
		t.Errorf("got rejections %+v", rejs)
	}
}

func TestDispatcher_HeaderCallerReplacesPayloadCaller(t *testing.T) {
	tokenCaller := uuid.MustParse("990e8400-e29b-41d4-a716-446655440009")
	auth := &fakeAuth{tokens: map[string]uuid.UUID{"Bearer good": tokenCaller}}

	raw := topUpRaw(t)
	raw.Authorization = "Bearer good"
	s, _, exec := dispatchWith(t, auth, nil, raw)
	if s.ack != 1 || len(exec.seen) != 1 {
		t.Fatalf("got %+v with %d executions", s, len(exec.seen))
	}
	if got := exec.seen[0].Caller(); got != tokenCaller {
		t.Errorf("caller: got %s, want token subject %s", got, tokenCaller)
	}
}

func TestDispatcher_SecureModeRequiresCredentials(t *testing.T) {
	auth := &fakeAuth{tokens: map[string]uuid.UUID{}}

	s, rejs, exec := dispatchWith(t, auth, nil, topUpRaw(t))
	if s.ack != 1 || len(exec.seen) != 0 {
		t.Errorf("got %+v with %d executions, want ack without execution", s, len(exec.seen))
	}
	if len(rejs) != 1 || rejs[0].Code != "Unauthorized" || rejs[0].IdempotencyKey != "top-1" {
		t.Errorf("got rejections %+v", rejs)
	}
	if len(rejs) == 1 && rejs[0].Timestamp != 1_700_000_000 {
		t.Errorf("rejection timestamp: got %d, want stream time", rejs[0].Timestamp)
	}
}

func TestDispatcher_InvalidTokenRejected(t *testing.T) {
	auth := &fakeAuth{insecure: true, tokens: map[string]uuid.UUID{}}

	raw := topUpRaw(t)
	raw.Authorization = "Bearer forged"
	s, rejs, exec := dispatchWith(t, auth, nil, raw)
	if s.ack != 1 || len(exec.seen) != 0 || len(rejs) != 1 || rejs[0].Code != "Unauthorized" {
		t.Errorf("got %+v, %d executions, rejections %+v", s, len(exec.seen), rejs)
	}
}

func TestDispatcher_InsecureModeTrustsPayloadCaller(t *testing.T) {
	auth := &fakeAuth{insecure: true}

	s, _, exec := dispatchWith(t, auth, nil, topUpRaw(t))
	if s.ack != 1 || len(exec.seen) != 1 {
		t.Fatalf("got %+v with %d executions", s, len(exec.seen))
	}
	if got := exec.seen[0].Caller().String(); got != "880e8400-e29b-41d4-a716-446655440003" {
		t.Errorf("caller: got %s", got)
	}
}

func TestSubmitter_OverwritesClientTimestamp(t *testing.T) {
	exec := &stubExecutor{}
	sub := ingestion.NewSubmitter(exec, func() time.Time { return time.Unix(1_700_000_500, 0) })

	instr := &event.TopUpPool{Meta: event.Meta{Key: "k", CallerID: uuid.New(), At: 1_900_000_000}, Amount: 1}
	if _, err := sub.Submit(context.Background(), instr); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if instr.Timestamp() != 1_700_000_500 {
		t.Errorf("got timestamp %d, want 1700000500", instr.Timestamp())
	}
}

func TestSubmitter_ForgedTimestampCannotClaimBeforeGrace(t *testing.T) {
	const (
		now = int64(1_700_000_000)
		day = int64(86_400)
	)
	authority := uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	business := uuid.MustParse("00000000-0000-0000-0000-00000000b001")
	investor := uuid.MustParse("00000000-0000-0000-0000-00000000c001")

	persist := make(chan core.CoreOutput, 64)
	proj := make(chan core.CoreOutput, 64)
	c := core.NewSettlementCore(core.Config{Params: core.DefaultParams()}, ledger.NewTokenLedger(), persist, proj)
	sub := ingestion.NewSubmitter(c, func() time.Time { return time.Unix(now, 0) })

	ctx := context.Background()
	submit := func(instr event.Instruction) *core.Receipt {
		t.Helper()
		r, err := sub.Submit(ctx, instr)
		if err != nil {
			t.Fatalf("%s: %v", instr.InstructionType(), err)
		}
		return r
	}
	meta := func(key string, caller uuid.UUID) event.Meta {
		return event.Meta{Key: key, CallerID: caller}
	}

	submit(&event.Initialize{Meta: meta("init", authority), SettlementToken: "USDC"})
	submit(&event.DepositTokens{Meta: meta("dep-inv", authority), Owner: investor, Amount: 10_023})
	r := submit(&event.CreateInvoice{
		Meta:           meta("create", business),
		InvoiceID:      9001,
		Amount:         10_000,
		DueDate:        now + 30*day,
		DebtorInfo:     "Acme Wholesale Ltd, net-30",
		CreditScore:    720,
		IndustryFactor: 5,
		HistoryFactor:  90,
	})
	id := r.Invoice.ID
	submit(&event.FundInvoice{Meta: meta("fund", investor), InvoiceID: id, Amount: 10_000})

	forged := meta("claim", investor)
	forged.At = now + 365*day
	_, err := sub.Submit(ctx, &event.ClaimInsurance{Meta: forged, InvoiceID: id})
	if !errors.Is(err, failure.ErrNotYetDue) {
		t.Fatalf("claim: got %v, want ErrNotYetDue", err)
	}
	inv, err := c.GetInvoice(id)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.State != state.InvoiceStateFunded {
		t.Errorf("state: got %s, want Funded", inv.State)
	}
}

// ===== Publisher =====

type recordingJS struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingJS) Publish(_ context.Context, subject string, _ []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return &jetstream.PubAck{Stream: ingestion.OutboundStream}, nil
}

func TestOutboundPublisher_Subjects(t *testing.T) {
	js := &recordingJS{}
	notes := make(chan event.Notification, 2)
	rejs := make(chan event.Rejection, 1)

	notes <- event.Notification{Type: event.NotificationInvoiceFunded, Sequence: 7}
	notes <- event.Notification{Type: event.NotificationInsuranceClaimed, Sequence: 8}
	rejs <- event.Rejection{InstructionType: "FundInvoice", IdempotencyKey: "k", Code: "AlreadyFunded"}
	close(notes)
	close(rejs)

	pub := ingestion.NewOutboundPublisher(js, notes, rejs, nil, quiet)
	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]bool{
		"sureinv.ledger.events.invoice.funded":    true,
		"sureinv.ledger.events.insurance.claimed": true,
		"sureinv.ledger.rejections.FundInvoice":   true,
	}
	if len(js.subjects) != len(want) {
		t.Fatalf("got subjects %v", js.subjects)
	}
	for _, s := range js.subjects {
		if !want[s] {
			t.Errorf("unexpected subject %s", s)
		}
	}
}
