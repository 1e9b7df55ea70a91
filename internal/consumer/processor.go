// Package consumer ingests presence events published by the source listeners.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of one presence notification.
type Message struct {
	Topic      string
	Partition  int
	Offset     int64
	ReceivedAt time.Time

	Source     string
	ExternalID string
	// Status carries the source-native state; the ingest handler collapses
	// it to the two-valued online/offline domain before the engine sees it.
	Status    string
	RawStatus string
	EventTime time.Time
}

type wirePayload struct {
	ExternalID string    `json:"external_id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	RawStatus  string    `json:"raw_status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, event); handleErr != nil {
			p.logger.Printf("handler error (source=%s, external_id=%s): %v", event.Source, event.ExternalID, handleErr)
			recordHandlerError(event)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(event)
		}
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	var payload wirePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return Message{}, fmt.Errorf("malformed payload: %w", err)
	}

	if strings.TrimSpace(payload.ExternalID) == "" {
		return Message{}, errors.New("missing external_id")
	}
	if strings.TrimSpace(payload.Source) == "" {
		return Message{}, errors.New("missing source")
	}
	if strings.TrimSpace(payload.Status) == "" {
		return Message{}, errors.New("missing status")
	}

	return Message{
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		ReceivedAt: msg.Time,
		Source:     payload.Source,
		ExternalID: payload.ExternalID,
		Status:     payload.Status,
		RawStatus:  payload.RawStatus,
		EventTime:  payload.Timestamp,
	}, nil
}
