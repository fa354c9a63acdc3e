package server

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/query"
)

var failureCodes = map[string]codes.Code{
	"InvalidAttributes":  codes.InvalidArgument,
	"Unauthorized":       codes.PermissionDenied,
	"SelfFunding":        codes.PermissionDenied,
	"AlreadyFunded":      codes.FailedPrecondition,
	"NotFunded":          codes.FailedPrecondition,
	"NotDefaulted":       codes.FailedPrecondition,
	"NotYetDue":          codes.FailedPrecondition,
	"AlreadyInitialized": codes.FailedPrecondition,
	"NotInitialized":     codes.FailedPrecondition,
	"InsufficientFunds":  codes.FailedPrecondition,
	"PoolInsufficient":   codes.FailedPrecondition,
	"InvoiceNotFound":    codes.NotFound,
	"Duplicate":          codes.AlreadyExists,
	"Conflict":           codes.Aborted,
}

// toStatus maps a core error to a gRPC status. The failure code travels as
// the status message prefix so clients can recover the sentinel.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, query.ErrNoLedger) {
		return status.Error(codes.Unimplemented, err.Error())
	}
	code := failure.Code(err)
	grpcCode, ok := failureCodes[code]
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(grpcCode, code+": "+err.Error())
}
