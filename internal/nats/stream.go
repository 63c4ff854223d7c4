package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

const (
	// StreamName is the JetStream stream holding assistant traffic.
	StreamName = "ASSISTANT"

	// SubjectPrefix prefixes every assistant subject.
	SubjectPrefix = "assistant"

	// EventRetention bounds how long conversation events are kept.
	EventRetention = 7 * 24 * time.Hour
)

// JetStreamPublisher is the publishing subset of jetstream.JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EnsureStream creates the assistant stream if it does not exist yet.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      EventRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Assistant conversation events and action commands",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// EventSubject returns the subject for a conversation event.
func EventSubject(userID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(userID), token(conversationID), eventType)
}

// EventFilter matches every event of one conversation.
func EventFilter(userID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, token(userID), token(conversationID))
}

// CommandSubject returns the subject on which actions of a kind are handed
// to downstream workers.
func CommandSubject(userID string, kind model.ActionKind) string {
	return fmt.Sprintf("%s.%s.command.%s", SubjectPrefix, token(userID), kind)
}

// Command is the payload of an action handed to a worker.
type Command struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Action    model.ResolvedAction `json:"action"`
	CreatedAt time.Time            `json:"created_at"`
}

// Publisher writes events and commands to JetStream.
type Publisher struct {
	js     JetStreamPublisher
	logger *logger.Logger
}

// NewPublisher creates a publisher over js.
func NewPublisher(js JetStreamPublisher, log *logger.Logger) *Publisher {
	return &Publisher{js: js, logger: log.Named("nats.publisher")}
}

// PublishEvent publishes a conversation event. The event id doubles as the
// JetStream message id so retries are deduplicated.
func (p *Publisher) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.UserID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	event.Sequence = ack.Sequence

	p.logger.Debug("published event",
		zap.String("subject", subject),
		zap.Uint64("sequence", ack.Sequence),
	)
	return nil
}

// PublishCommand publishes an action command and returns its stream sequence.
func (p *Publisher) PublishCommand(ctx context.Context, cmd *Command) (uint64, error) {
	subject := CommandSubject(cmd.UserID, cmd.Action.Kind)

	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal command: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(cmd.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish command: %w", err)
	}
	return ack.Sequence, nil
}

// EventLog reads conversation events back from the stream.
type EventLog struct {
	js jetstream.JetStream
}

// NewEventLog creates an event reader over js.
func NewEventLog(js jetstream.JetStream) *EventLog {
	return &EventLog{js: js}
}

// RecentEvents reads up to limit events of a conversation from the start of
// the stream using an ephemeral ordered consumer.
func (l *EventLog) RecentEvents(ctx context.Context, userID, conversationID string, limit int) ([]model.ConversationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	consumer, err := l.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{EventFilter(userID, conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	var events []model.ConversationEvent
	for msg := range batch.Messages() {
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}
	return events, nil
}
