package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsegrid/pulsegrid/internal/domain"
	"github.com/pulsegrid/pulsegrid/internal/ratelimit"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

// LiveBroadcaster fans a stored event out to connected sessions.
type LiveBroadcaster interface {
	BroadcastEvent(e *telemetry.Event)
}

// ReadingDispatcher evaluates alert rules against a reading in the background.
type ReadingDispatcher interface {
	HandleReading(e *telemetry.Event)
}

// IngestLimiter enforces the per-device ingest quota.
type IngestLimiter interface {
	CheckIngestLimit(ctx context.Context, deviceID string, limit int) error
}

type IngestHandler struct {
	repo       *telemetry.Repository
	broadcast  LiveBroadcaster
	dispatcher ReadingDispatcher
	limiter    IngestLimiter
	limit      int
	logger     *slog.Logger
}

func NewIngestHandler(repo *telemetry.Repository, broadcast LiveBroadcaster, dispatcher ReadingDispatcher, limiter IngestLimiter, limit int, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		repo:       repo,
		broadcast:  broadcast,
		dispatcher: dispatcher,
		limiter:    limiter,
		limit:      limit,
		logger:     logger,
	}
}

type IngestRequest struct {
	DeviceID  string         `json:"device_id"`
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Tags      []string       `json:"tags"`
	Timestamp *time.Time     `json:"timestamp"`
}

// Ingest stores an event, pushes it to live subscribers and hands readings
// to the alert dispatcher. Delivery and evaluation never block the response.
func (h *IngestHandler) Ingest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	event := &telemetry.Event{
		DeviceID: req.DeviceID,
		Source:   req.Source,
		Type:     req.Type,
		Data:     req.Data,
		Tags:     req.Tags,
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	if err := event.Validate(); err != nil {
		return err
	}

	if h.limiter != nil {
		if err := h.limiter.CheckIngestLimit(c.Context(), event.DeviceID, h.limit); err != nil {
			if errors.Is(err, ratelimit.ErrLimitExceeded) {
				return domain.ErrRateLimitExceeded.WithError(err)
			}
			return domain.ErrInternal.WithError(err)
		}
	}

	if err := h.repo.Insert(c.Context(), event); err != nil {
		return domain.ErrInternal.WithError(err)
	}

	h.broadcast.BroadcastEvent(event)

	if event.Type == telemetry.TypeReading {
		h.dispatcher.HandleReading(event)
	}

	h.logger.Debug("event ingested",
		"event_id", event.ID,
		"device_id", event.DeviceID,
		"source", event.Source,
		"type", event.Type,
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_id":  event.ID,
		"timestamp": event.Timestamp,
	})
}
