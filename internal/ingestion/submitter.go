package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/failure"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

// Executor is the settlement core as seen by the shell
type Executor interface {
	Execute(ctx context.Context, instr event.Instruction) (*core.Receipt, error)
}

// Submitter is the single entry into the core for every surface (gRPC, HTTP
// and NATS). It supplies the execution timestamp; the core itself never reads
// the wall clock.
type Submitter struct {
	exec Executor
	now  func() time.Time
}

func NewSubmitter(exec Executor, now func() time.Time) *Submitter {
	if now == nil {
		now = time.Now
	}
	return &Submitter{exec: exec, now: now}
}

// Submit executes instr at the submitter's current time. Any timestamp
// already on instr is overwritten.
func (s *Submitter) Submit(ctx context.Context, instr event.Instruction) (*core.Receipt, error) {
	return s.SubmitAt(ctx, instr, time.Time{})
}

// SubmitAt executes instr at a time fixed by the transport, such as the
// JetStream storage time. A zero at means now.
func (s *Submitter) SubmitAt(ctx context.Context, instr event.Instruction, at time.Time) (*core.Receipt, error) {
	if at.IsZero() {
		at = s.now()
	}
	event.Stamp(instr, at.Unix())
	return s.exec.Execute(ctx, instr)
}

// CallerAuthenticator resolves the caller of a message from its
// Authorization and X-Caller-Id headers. ok is false when neither carries
// credentials.
type CallerAuthenticator interface {
	Authenticate(authorization, callerID string) (caller uuid.UUID, ok bool, err error)
	Insecure() bool
}

type callerSetter interface {
	SetCaller(id uuid.UUID)
}

// Dispatcher drains raw NATS instructions into the Submitter and settles
// each message: ack on commit or final rejection, nak on conflict or
// infrastructure error, term when undecodable. The caller comes from the
// message headers; the payload caller is only trusted when auth is nil or
// insecure.
type Dispatcher struct {
	submitter  *Submitter
	auth       CallerAuthenticator
	rawChan    <-chan RawInstruction
	rejections chan<- event.Rejection
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewDispatcher(
	submitter *Submitter,
	auth CallerAuthenticator,
	rawChan <-chan RawInstruction,
	rejections chan<- event.Rejection,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		submitter:  submitter,
		auth:       auth,
		rawChan:    rawChan,
		rejections: rejections,
		metrics:    metrics,
		log:        log,
	}
}

// Run blocks until ctx is cancelled or the raw channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.rawChan:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawInstruction) {
	if d.metrics != nil {
		d.metrics.IngestReceived.WithLabelValues(raw.Subject).Inc()
	}

	instr, err := ParseRawInstruction(raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
		}
		d.log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse instruction failed")
		settle(raw.TermFunc)
		return
	}

	if !raw.Timestamp.IsZero() {
		event.Stamp(instr, raw.Timestamp.Unix())
	}
	if err := d.authenticate(raw, instr); err != nil {
		d.log.Warn().
			Str("subject", raw.Subject).
			Str("idempotency_key", instr.IdempotencyKey()).
			Err(err).
			Msg("instruction not authenticated")
		d.reject(instr, err)
		settle(raw.AckFunc)
		return
	}

	_, err = d.submitter.SubmitAt(ctx, instr, raw.Timestamp)
	switch {
	case err == nil:
		settle(raw.AckFunc)
	case errors.Is(err, failure.ErrDuplicate):
		// already committed under this key; redelivery after a lost ack
		settle(raw.AckFunc)
	case errors.Is(err, failure.ErrConflict) || !failure.IsRejection(err):
		d.log.Warn().
			Str("instruction", instr.InstructionType().String()).
			Str("idempotency_key", instr.IdempotencyKey()).
			Err(err).
			Msg("instruction not settled, redelivering")
		settle(raw.NakFunc)
	default:
		d.reject(instr, err)
		settle(raw.AckFunc)
	}
}

// authenticate replaces the payload caller with the header identity.
func (d *Dispatcher) authenticate(raw RawInstruction, instr event.Instruction) error {
	insecure := d.auth == nil || d.auth.Insecure()
	if d.auth != nil {
		caller, ok, err := d.auth.Authenticate(raw.Authorization, raw.CallerID)
		if err != nil {
			return fmt.Errorf("%w: %v", failure.ErrUnauthorized, err)
		}
		if ok {
			if cs, isSetter := instr.(callerSetter); isSetter {
				cs.SetCaller(caller)
			}
			return nil
		}
	}
	if !insecure {
		return fmt.Errorf("%w: missing credentials", failure.ErrUnauthorized)
	}
	if instr.Caller() == uuid.Nil {
		return fmt.Errorf("%w: caller required", failure.ErrUnauthorized)
	}
	return nil
}

func (d *Dispatcher) reject(instr event.Instruction, err error) {
	if d.rejections == nil {
		return
	}
	rej := event.Rejection{
		IdempotencyKey:  instr.IdempotencyKey(),
		InstructionType: instr.InstructionType().String(),
		Caller:          instr.Caller(),
		Code:            failure.Code(err),
		Message:         err.Error(),
		Timestamp:       instr.Timestamp(),
	}
	select {
	case d.rejections <- rej:
	default:
		if d.metrics != nil {
			d.metrics.PublishErrors.WithLabelValues("rejection_dropped").Inc()
		}
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
