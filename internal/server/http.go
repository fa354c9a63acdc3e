package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

const maxBodyBytes = 1 << 20

type routeFunc func(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error)

type gateway struct {
	svc     *SettlementService
	metrics *observability.Metrics
	log     zerolog.Logger
}

// newGateway builds the HTTP/JSON surface on the grpc-gateway runtime mux.
// Routes call the service in process rather than proxying over gRPC.
func newGateway(svc *SettlementService, metrics *observability.Metrics, log zerolog.Logger) (*runtime.ServeMux, error) {
	g := &gateway{svc: svc, metrics: metrics, log: log}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, name string
		fn                    routeFunc
	}{
		{"POST", "/v1/instructions/{type}", "Submit", g.submit},
		{"GET", "/v1/invoices/{invoice_id}", "GetInvoice", g.getInvoice},
		{"GET", "/v1/invoices/{invoice_id}/history", "GetInvoiceHistory", g.invoiceHistory},
		{"GET", "/v1/invoices/{invoice_id}/quote", "QuoteRepayment", g.quote},
		{"GET", "/v1/owners/{owner}/invoices", "ListInvoices", g.listInvoices},
		{"GET", "/v1/owners/{owner}/balance", "GetBalance", g.balance},
		{"GET", "/v1/owners/{owner}/journals", "ListJournals", g.journals},
		{"GET", "/v1/pool", "GetPool", g.noBody((*SettlementService).GetPool)},
		{"GET", "/v1/protocol", "GetProtocol", g.noBody((*SettlementService).GetProtocol)},
		{"POST", "/v1/admin/snapshot", "TakeSnapshot", g.noBody((*SettlementService).TakeSnapshot)},
		{"POST", "/v1/admin/rebuild-projections", "RebuildProjections", g.noBody((*SettlementService).RebuildProjections)},
		{"GET", "/v1/admin/integrity", "VerifyIntegrity", g.noBody((*SettlementService).VerifyIntegrity)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.handle(rt.name, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func (g *gateway) handle(name string, fn routeFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		ctx := r.Context()

		caller, ok, err := g.svc.auth.HTTPCaller(r)
		if err != nil {
			err = status.Error(codes.Unauthenticated, err.Error())
			observe(g.metrics, name, err, start)
			writeError(w, err)
			return
		}
		if ok {
			ctx = WithCaller(ctx, caller)
		}

		resp, err := fn(ctx, r, params)
		observe(g.metrics, name, err, start)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (g *gateway) noBody(fn func(*SettlementService, context.Context, *Empty) (interface{}, error)) routeFunc {
	return func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
		return fn(g.svc, ctx, &Empty{})
	}
}

func (g *gateway) submit(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error) {
	t := event.ParseInstructionType(params["type"])
	if t == event.InstructionTypeUnknown {
		return nil, status.Errorf(codes.NotFound, "unknown instruction type %q", params["type"])
	}
	instr, err := event.NewInstruction(t)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(instr); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", t, err)
	}
	return checked(g.svc.Submit(ctx, instr))
}

func invoiceParam(params map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(params["invoice_id"], 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invoice_id: %v", err)
	}
	return id, nil
}

func ownerParam(params map[string]string) (uuid.UUID, error) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "owner: %v", err)
	}
	return owner, nil
}

func (g *gateway) getInvoice(ctx context.Context, _ *http.Request, params map[string]string) (interface{}, error) {
	id, err := invoiceParam(params)
	if err != nil {
		return nil, err
	}
	return checked(g.svc.GetInvoice(ctx, &InvoiceRequest{InvoiceID: id}))
}

func (g *gateway) invoiceHistory(ctx context.Context, _ *http.Request, params map[string]string) (interface{}, error) {
	id, err := invoiceParam(params)
	if err != nil {
		return nil, err
	}
	return checked(g.svc.GetInvoiceHistory(ctx, &InvoiceRequest{InvoiceID: id}))
}

func (g *gateway) quote(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error) {
	id, err := invoiceParam(params)
	if err != nil {
		return nil, err
	}
	req := &QuoteRequest{InvoiceID: id}
	if at := r.URL.Query().Get("at"); at != "" {
		if req.At, err = strconv.ParseInt(at, 10, 64); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "at: %v", err)
		}
	}
	return checked(g.svc.QuoteRepayment(ctx, req))
}

func (g *gateway) listInvoices(ctx context.Context, _ *http.Request, params map[string]string) (interface{}, error) {
	owner, err := ownerParam(params)
	if err != nil {
		return nil, err
	}
	return checked(g.svc.ListInvoices(ctx, &OwnerRequest{Owner: owner}))
}

func (g *gateway) balance(ctx context.Context, _ *http.Request, params map[string]string) (interface{}, error) {
	owner, err := ownerParam(params)
	if err != nil {
		return nil, err
	}
	return checked(g.svc.GetBalance(ctx, &OwnerRequest{Owner: owner}))
}

func (g *gateway) journals(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error) {
	owner, err := ownerParam(params)
	if err != nil {
		return nil, err
	}
	req := &JournalsRequest{Owner: owner}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
	}
	if v := q.Get("before_sequence"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "before_sequence: %v", err)
		}
		req.BeforeSequence = &before
	}
	return checked(g.svc.ListJournals(ctx, req))
}

// checked drops the typed-nil response that accompanies an error
func checked(resp interface{}, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
