package server

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/ingestion"
	"github.com/AkintolaX/sureinv-financing/internal/query"
)

// ServiceName is the fully-qualified gRPC service name
const ServiceName = "sureinv.v1.Settlement"

// Snapshotter takes a snapshot on demand and returns its sequence
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// --- messages (JSON codec) ---

type ReceiptResponse struct {
	Sequence      int64                  `json:"sequence"`
	StateHash     string                 `json:"state_hash"`
	Invoice       *query.InvoiceResponse `json:"invoice,omitempty"`
	Notifications []event.Notification   `json:"notifications"`
}

type InvoiceRequest struct {
	InvoiceID uint64 `json:"invoice_id"`
}

type OwnerRequest struct {
	Owner uuid.UUID `json:"owner"`
}

// QuoteRequest prices a repayment at At; zero means now.
type QuoteRequest struct {
	InvoiceID uint64 `json:"invoice_id"`
	At        int64  `json:"at,omitempty"`
}

type JournalsRequest struct {
	Owner          uuid.UUID `json:"owner"`
	Limit          int       `json:"limit,omitempty"`
	BeforeSequence *int64    `json:"before_sequence,omitempty"`
}

type InvoiceList struct {
	Invoices []*query.InvoiceResponse `json:"invoices"`
}

type JournalList struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type Empty struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

// SettlementAPI is the handler type of the service descriptor
type SettlementAPI interface {
	Submit(ctx context.Context, instr event.Instruction) (*ReceiptResponse, error)
}

// SettlementService implements both the gRPC service and the HTTP routes.
type SettlementService struct {
	submitter   *ingestion.Submitter
	query       *query.QueryService
	auth        *Authenticator
	snapshotter Snapshotter
	rebuild     func(ctx context.Context) error
	now         func() time.Time
	log         zerolog.Logger
}

type ServiceDeps struct {
	Submitter   *ingestion.Submitter
	Query       *query.QueryService
	Auth        *Authenticator
	Snapshotter Snapshotter                     // nil disables TakeSnapshot
	Rebuild     func(ctx context.Context) error // nil disables RebuildProjections
	Now         func() time.Time
	Log         zerolog.Logger
}

func NewSettlementService(deps ServiceDeps) *SettlementService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auth == nil {
		deps.Auth = NewAuthenticator("")
	}
	return &SettlementService{
		submitter:   deps.Submitter,
		query:       deps.Query,
		auth:        deps.Auth,
		snapshotter: deps.Snapshotter,
		rebuild:     deps.Rebuild,
		now:         deps.Now,
		log:         deps.Log,
	}
}

type callerSetter interface {
	SetCaller(id uuid.UUID)
}

// Submit executes one instruction as the authenticated caller.
func (s *SettlementService) Submit(ctx context.Context, instr event.Instruction) (*ReceiptResponse, error) {
	if caller, ok := CallerFromContext(ctx); ok {
		if cs, ok := instr.(callerSetter); ok {
			cs.SetCaller(caller)
		}
	} else if !s.auth.Insecure() {
		return nil, status.Error(codes.Unauthenticated, errNoCredentials.Error())
	}

	receipt, err := s.submitter.Submit(ctx, instr)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &ReceiptResponse{
		Sequence:      receipt.Sequence,
		StateHash:     hex.EncodeToString(receipt.StateHash[:]),
		Notifications: receipt.Notifications,
	}
	if receipt.Invoice != nil {
		full, err := s.query.GetInvoice(ctx, receipt.Invoice.ID)
		if err == nil {
			resp.Invoice = full
		}
	}
	return resp, nil
}

func (s *SettlementService) GetInvoice(ctx context.Context, req *InvoiceRequest) (interface{}, error) {
	resp, err := s.query.GetInvoice(ctx, req.InvoiceID)
	return resp, toStatus(err)
}

func (s *SettlementService) ListInvoices(ctx context.Context, req *OwnerRequest) (interface{}, error) {
	list, err := s.query.ListInvoices(ctx, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InvoiceList{Invoices: list}, nil
}

func (s *SettlementService) QuoteRepayment(ctx context.Context, req *QuoteRequest) (interface{}, error) {
	at := req.At
	if at == 0 {
		at = s.now().Unix()
	}
	resp, err := s.query.QuoteRepayment(ctx, req.InvoiceID, at)
	return resp, toStatus(err)
}

func (s *SettlementService) GetInvoiceHistory(ctx context.Context, req *InvoiceRequest) (interface{}, error) {
	resp, err := s.query.GetInvoiceHistory(ctx, req.InvoiceID)
	return resp, toStatus(err)
}

func (s *SettlementService) GetBalance(ctx context.Context, req *OwnerRequest) (interface{}, error) {
	resp, err := s.query.GetBalance(ctx, req.Owner)
	return resp, toStatus(err)
}

func (s *SettlementService) ListJournals(ctx context.Context, req *JournalsRequest) (interface{}, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := s.query.GetJournalHistory(ctx, req.Owner, limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalList{Journals: entries}, nil
}

func (s *SettlementService) GetPool(ctx context.Context, _ *Empty) (interface{}, error) {
	return s.query.GetPool(ctx), nil
}

func (s *SettlementService) GetProtocol(ctx context.Context, _ *Empty) (interface{}, error) {
	return s.query.GetProtocol(ctx), nil
}

// --- Admin APIs: authority only ---

func (s *SettlementService) requireAuthority(ctx context.Context) error {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, errNoCredentials.Error())
	}
	protocol := s.query.GetProtocol(ctx)
	if !protocol.Initialized || caller != protocol.Authority {
		return status.Error(codes.PermissionDenied, "admin operations require the protocol authority")
	}
	return nil
}

func (s *SettlementService) TakeSnapshot(ctx context.Context, _ *Empty) (interface{}, error) {
	if err := s.requireAuthority(ctx); err != nil {
		return nil, err
	}
	if s.snapshotter == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, err := s.snapshotter.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *SettlementService) RebuildProjections(ctx context.Context, _ *Empty) (interface{}, error) {
	if err := s.requireAuthority(ctx); err != nil {
		return nil, err
	}
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "projections are not configured")
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Rebuilt: true}, nil
}

func (s *SettlementService) VerifyIntegrity(ctx context.Context, _ *Empty) (interface{}, error) {
	if err := s.requireAuthority(ctx); err != nil {
		return nil, err
	}
	report, err := s.query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// --- service descriptor ---

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary(name string, req interface{}, call func(ctx context.Context, req interface{}) (interface{}, error), ctx context.Context, interceptor grpc.UnaryServerInterceptor, srv interface{}) (interface{}, error) {
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
	return interceptor(ctx, req, info, call)
}

func instructionMethod(t event.InstructionType) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: t.String(),
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			instr, err := event.NewInstruction(t)
			if err != nil {
				return nil, status.Error(codes.Unimplemented, err.Error())
			}
			if err := dec(instr); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", t, err)
			}
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(SettlementAPI).Submit(ctx, req.(event.Instruction))
			}
			return unary(t.String(), instr, call, ctx, interceptor, srv)
		},
	}
}

func queryMethod[Req any](name string, fn func(*SettlementService, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(*SettlementService), ctx, req.(*Req))
			}
			return unary(name, req, call, ctx, interceptor, srv)
		},
	}
}

var instructionTypes = []event.InstructionType{
	event.InstructionTypeInitialize,
	event.InstructionTypeCreateInvoice,
	event.InstructionTypeFundInvoice,
	event.InstructionTypeRepayInvoice,
	event.InstructionTypeMarkDefaulted,
	event.InstructionTypeClaimInsurance,
	event.InstructionTypeTopUpPool,
	event.InstructionTypeDepositTokens,
}

// serviceDesc is registered by hand; messages are plain structs on the JSON codec.
func serviceDesc() *grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(instructionTypes)+11)
	for _, t := range instructionTypes {
		methods = append(methods, instructionMethod(t))
	}
	methods = append(methods,
		queryMethod("GetInvoice", (*SettlementService).GetInvoice),
		queryMethod("ListInvoices", (*SettlementService).ListInvoices),
		queryMethod("QuoteRepayment", (*SettlementService).QuoteRepayment),
		queryMethod("GetInvoiceHistory", (*SettlementService).GetInvoiceHistory),
		queryMethod("GetBalance", (*SettlementService).GetBalance),
		queryMethod("ListJournals", (*SettlementService).ListJournals),
		queryMethod("GetPool", (*SettlementService).GetPool),
		queryMethod("GetProtocol", (*SettlementService).GetProtocol),
		queryMethod("TakeSnapshot", (*SettlementService).TakeSnapshot),
		queryMethod("RebuildProjections", (*SettlementService).RebuildProjections),
		queryMethod("VerifyIntegrity", (*SettlementService).VerifyIntegrity),
	)
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SettlementAPI)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "sureinv/v1/settlement",
	}
}

// Invoke calls a method of the service through a client connection with the JSON codec.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req, resp interface{}, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	return cc.Invoke(ctx, fullMethod(method), req, resp, opts...)
}
