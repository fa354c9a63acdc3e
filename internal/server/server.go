package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	handler    http.Handler
	grpcAddr   string
	httpAddr   string
	log        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(
	grpcAddr, httpAddr string,
	svc *SettlementService,
	checker *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*GRPCServer, error) {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(metricsInterceptor(metrics), svc.auth.UnaryInterceptor()),
	)
	grpcServer.RegisterService(serviceDesc(), svc)

	// Health follows readiness: NOT_SERVING until recovery and replay finish
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if checker != nil {
		checker.OnChange(func(ready bool) {
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				st = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus("", st)
			healthServer.SetServingStatus(ServiceName, st)
		})
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	gw, err := newGateway(svc, metrics, log)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if checker != nil {
		httpMux.HandleFunc("/healthz", checker.LivenessHandler)
		httpMux.HandleFunc("/readyz", checker.ReadinessHandler)
	}
	httpMux.Handle("/", gw)

	if svc.auth.Insecure() {
		log.Warn().Msg("no jwt secret configured: trusting x-caller-id header")
	}

	return &GRPCServer{
		grpcServer: grpcServer,
		handler:    httpMux,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		log:        log,
	}, nil
}

// Handler is the HTTP surface, for embedding and tests.
func (s *GRPCServer) Handler() http.Handler { return s.handler }

// Serve runs the gRPC server on an existing listener (blocking).
func (s *GRPCServer) Serve(lis net.Listener) error { return s.grpcServer.Serve(lis) }

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the gRPC server immediately.
func (s *GRPCServer) Stop() { s.grpcServer.Stop() }

func observe(metrics *observability.Metrics, method string, err error, start time.Time) {
	if metrics == nil {
		return
	}
	metrics.RPCRequests.WithLabelValues(method, status.Code(err).String()).Inc()
	metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func metricsInterceptor(metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(metrics, path.Base(info.FullMethod), err, start)
		return resp, err
	}
}
