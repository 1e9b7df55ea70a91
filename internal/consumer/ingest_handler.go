package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/BloodRedTape/UtcTracker/internal/domain"
)

// StatusCache mirrors the latest per-identity status into a fast lookup
// store. Implemented by the redis-backed statuscache package.
type StatusCache interface {
	SetStatus(ctx context.Context, identity domain.Identity) error
}

// IngestHandler feeds decoded presence notifications into the engine.
type IngestHandler struct {
	service *domain.Service
	cache   StatusCache
	logger  *log.Logger
}

// NewIngestHandler constructs an IngestHandler. The cache may be nil, in
// which case status mirroring is skipped.
func NewIngestHandler(service *domain.Service, cache StatusCache) *IngestHandler {
	return &IngestHandler{
		service: service,
		cache:   cache,
		logger:  log.New(log.Writer(), "[ingest] ", log.LstdFlags),
	}
}

// Handle records one notification. Permanent rejections (invalid status,
// unknown identity) and recompute failures return nil so the processor
// commits the offset; only transient store errors propagate for retry.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	source := domain.Source(msg.Source)

	status, ok := MapNativeStatus(source, msg.Status)
	if !ok {
		h.logger.Printf("dropping event with unmapped status: source=%s status=%q external_id=%s", msg.Source, msg.Status, msg.ExternalID)
		recordDroppedEvent(msg.Source, "unmapped_status")
		return nil
	}

	rawStatus := msg.RawStatus
	if rawStatus == "" {
		rawStatus = msg.Status
	}

	result, err := h.service.RecordEvent(ctx, domain.RecordEventInput{
		Source:     source,
		ExternalID: msg.ExternalID,
		Status:     status,
		RawStatus:  rawStatus,
		Timestamp:  msg.EventTime,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrUnknownIdentity):
		h.logger.Printf("dropping rejected event: source=%s external_id=%s: %v", msg.Source, msg.ExternalID, err)
		recordDroppedEvent(msg.Source, "rejected")
		return nil
	case errors.Is(err, domain.ErrRecomputeFailed):
		// The event itself is stored; the next accepted event re-derives.
		h.logger.Printf("recompute failed for identity=%s: %v", result.IdentityID, err)
	default:
		return fmt.Errorf("record event: %w", err)
	}

	if h.cache != nil && result.Stored {
		identity, lookupErr := h.service.GetIdentity(ctx, result.IdentityID)
		if lookupErr != nil {
			h.logger.Printf("status cache lookup failed for identity=%s: %v", result.IdentityID, lookupErr)
			return nil
		}
		if cacheErr := h.cache.SetStatus(ctx, *identity); cacheErr != nil {
			h.logger.Printf("status cache update failed for identity=%s: %v", result.IdentityID, cacheErr)
		}
	}
	return nil
}
