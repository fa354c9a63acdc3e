package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/AkintolaX/sureinv-financing/internal/ingestion"
)

const callerHeader = "x-caller-id"

var errNoCredentials = errors.New("missing credentials")

type callerKey struct{}

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, caller uuid.UUID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(callerKey{}).(uuid.UUID)
	return id, ok
}

// Authenticator resolves the caller identity of a request. With a secret,
// callers present an HS256 bearer token whose subject is their UUID.
// Without one, the x-caller-id header is trusted (development only).
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Insecure reports whether caller ids are taken on trust
func (a *Authenticator) Insecure() bool { return len(a.secret) == 0 }

// IssueToken signs a caller token. Used by operators and tests.
func (a *Authenticator) IssueToken(caller uuid.UUID, ttl time.Duration) (string, error) {
	if a.Insecure() {
		return "", errors.New("no signing secret configured")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// resolve authenticates from an authorization value and a caller header value.
func (a *Authenticator) resolve(authorization, callerID string) (uuid.UUID, error) {
	if a.Insecure() {
		if callerID == "" {
			return uuid.Nil, errNoCredentials
		}
		return uuid.Parse(callerID)
	}

	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return uuid.Nil, errNoCredentials
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}
	caller, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject: %w", err)
	}
	return caller, nil
}

func firstMD(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// UnaryInterceptor authenticates every call. Health checks pass through
// unauthenticated; requests with no credentials proceed without a caller.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		caller, err := a.resolve(firstMD(md, "authorization"), firstMD(md, callerHeader))
		switch {
		case errors.Is(err, errNoCredentials):
		case err != nil:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		default:
			ctx = WithCaller(ctx, caller)
		}
		return handler(ctx, req)
	}
}

// HTTPCaller authenticates an HTTP request the same way.
func (a *Authenticator) HTTPCaller(r *http.Request) (uuid.UUID, bool, error) {
	return a.Authenticate(r.Header.Get("Authorization"), r.Header.Get(callerHeader))
}

var _ ingestion.CallerAuthenticator = (*Authenticator)(nil)

// Authenticate resolves raw header values. ok is false when no credentials
// were presented. NATS message headers are authenticated through here.
func (a *Authenticator) Authenticate(authorization, callerID string) (uuid.UUID, bool, error) {
	caller, err := a.resolve(authorization, callerID)
	if errors.Is(err, errNoCredentials) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return caller, true, nil
}
