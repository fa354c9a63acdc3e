package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
)

const (
	OutboundStream       = "SUREINV_LEDGER_EVENTS"
	notificationSubjects = "sureinv.ledger.events"
	rejectionSubjects    = "sureinv.ledger.rejections"
)

// JetStreamPublisher is the subset of jetstream.JetStream the publisher needs
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed notifications and NATS rejections
// for downstream consumers. Notifications arrive only after persistence has
// confirmed the commit.
// Subjects: sureinv.ledger.events.{type}, sureinv.ledger.rejections.{type}
type OutboundPublisher struct {
	js            JetStreamPublisher
	notifications <-chan event.Notification
	rejections    <-chan event.Rejection
	metrics       *observability.Metrics
	log           zerolog.Logger
}

func NewOutboundPublisher(
	js JetStreamPublisher,
	notifications <-chan event.Notification,
	rejections <-chan event.Rejection,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:            js,
		notifications: notifications,
		rejections:    rejections,
		metrics:       metrics,
		log:           log,
	}
}

// Run starts the outbound publisher loop. Publish failures are logged and
// counted; downstream consumers can always re-read the event log.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	notifications, rejections := op.notifications, op.rejections
	for notifications != nil || rejections != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			if err := op.publishNotification(ctx, n); err != nil {
				op.failed("notification", err, n.Sequence)
			}

		case r, ok := <-rejections:
			if !ok {
				rejections = nil
				continue
			}
			if err := op.publishRejection(ctx, r); err != nil {
				op.failed("rejection", err, 0)
			}
		}
	}
	return nil
}

func (op *OutboundPublisher) failed(kind string, err error, seq int64) {
	if op.metrics != nil {
		op.metrics.PublishErrors.WithLabelValues(kind).Inc()
	}
	op.log.Warn().Str("kind", kind).Int64("sequence", seq).Err(err).Msg("outbound publish failed")
}

func (op *OutboundPublisher) publishNotification(ctx context.Context, n event.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	// one commit may emit several notifications; the type disambiguates the msg id
	msgID := fmt.Sprintf("%d:%s", n.Sequence, n.Type)
	_, err = op.js.Publish(ctx, NotificationSubject(n.Type), data, jetstream.WithMsgID(msgID))
	return err
}

func (op *OutboundPublisher) publishRejection(ctx context.Context, r event.Rejection) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}
	msgID := fmt.Sprintf("rej:%s:%s", r.InstructionType, r.IdempotencyKey)
	_, err = op.js.Publish(ctx, RejectionSubject(r.InstructionType), data, jetstream.WithMsgID(msgID))
	return err
}

func NotificationSubject(t event.NotificationType) string {
	return fmt.Sprintf("%s.%s", notificationSubjects, t)
}

func RejectionSubject(instructionType string) string {
	return fmt.Sprintf("%s.%s", rejectionSubjects, instructionType)
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{notificationSubjects + ".>", rejectionSubjects + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
