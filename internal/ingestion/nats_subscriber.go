package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/AkintolaX/sureinv-financing/internal/event"
)

// Credential headers on inbound messages. nats.Header lookups are
// case-sensitive.
const (
	AuthorizationHeader = "Authorization"
	CallerIDHeader      = "X-Caller-Id"
)

const (
	InstructionStream  = "SUREINV_INSTRUCTIONS"
	instructionSubject = "sureinv.instructions"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// instructions to the dispatcher. Each instruction type has its own subject
// and durable consumer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawInstruction
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawInstruction is an undecoded instruction with its delivery controls.
type RawInstruction struct {
	Subject         string
	InstructionType event.InstructionType
	Data            []byte
	// Timestamp is when JetStream stored the message; it becomes the
	// instruction timestamp.
	Timestamp time.Time
	// Authorization and CallerID are the message's Authorization and
	// X-Caller-Id headers.
	Authorization string
	CallerID      string
	AckFunc       func() // processed or rejected for good
	NakFunc       func() // transient failure, redeliver
	TermFunc      func() // undecodable, never redeliver
}

// SubjectConfig maps NATS subjects to instruction types.
type SubjectConfig struct {
	Subject         string
	InstructionType event.InstructionType
	ConsumerName    string
	StreamName      string
}

// SubjectFor is the inbound subject of an instruction type, e.g.
// sureinv.instructions.FundInvoice
func SubjectFor(t event.InstructionType) string {
	return fmt.Sprintf("%s.%s", instructionSubject, t)
}

// DefaultSubjects returns one subject per instruction type.
func DefaultSubjects() []SubjectConfig {
	types := []event.InstructionType{
		event.InstructionTypeInitialize,
		event.InstructionTypeCreateInvoice,
		event.InstructionTypeFundInvoice,
		event.InstructionTypeRepayInvoice,
		event.InstructionTypeMarkDefaulted,
		event.InstructionTypeClaimInsurance,
		event.InstructionTypeTopUpPool,
		event.InstructionTypeDepositTokens,
	}
	out := make([]SubjectConfig, 0, len(types))
	for _, t := range types {
		out = append(out, SubjectConfig{
			Subject:         SubjectFor(t),
			InstructionType: t,
			ConsumerName:    "settlement-" + t.String(),
			StreamName:      InstructionStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawInstruction, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		instrType := cfg.InstructionType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawInstruction{
				Subject:         msg.Subject(),
				InstructionType: instrType,
				Data:            msg.Data(),
				Timestamp:       messageTime(msg),
				Authorization:   msg.Headers().Get(AuthorizationHeader),
				CallerID:        msg.Headers().Get(CallerIDHeader),
				AckFunc:         func() { _ = msg.Ack() },
				NakFunc:         func() { _ = msg.Nak() },
				TermFunc:        func() { _ = msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// messageTime prefers the stream timestamp so a redelivered message keeps
// its original time.
func messageTime(msg jetstream.Msg) time.Time {
	if md, err := msg.Metadata(); err == nil && !md.Timestamp.IsZero() {
		return md.Timestamp
	}
	return time.Now()
}

// EnsureStreams creates the inbound instruction stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      InstructionStream,
		Subjects:  []string{instructionSubject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("sureinv-settlement"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
