package handler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsegrid/pulsegrid/internal/domain"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

type EventsHandler struct {
	repo   *telemetry.Repository
	logger *slog.Logger
}

func NewEventsHandler(repo *telemetry.Repository, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		repo:   repo,
		logger: logger,
	}
}

func (h *EventsHandler) Query(c *fiber.Ctx) error {
	filters := telemetry.Filters{
		Sources:   splitParam(c.Query("sources")),
		Types:     splitParam(c.Query("types")),
		DeviceIDs: splitParam(c.Query("device_ids")),
		Tags:      splitParam(c.Query("tags")),
		Limit:     c.QueryInt("limit"),
	}

	if raw := c.Query("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.ErrBadRequest.WithError(err)
		}
		filters.Start = &start
	}
	if raw := c.Query("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.ErrBadRequest.WithError(err)
		}
		filters.End = &end
	}

	events, err := h.repo.Query(c.Context(), filters)
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}

	if events == nil {
		events = []*telemetry.Event{}
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
