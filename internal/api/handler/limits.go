package handler

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsegrid/pulsegrid/internal/domain"
)

// LimitResetter clears a device's ingest quota window.
type LimitResetter interface {
	ResetLimit(ctx context.Context, deviceID string) error
}

type LimitsHandler struct {
	limiter LimitResetter
	logger  *slog.Logger
}

func NewLimitsHandler(limiter LimitResetter, logger *slog.Logger) *LimitsHandler {
	return &LimitsHandler{
		limiter: limiter,
		logger:  logger,
	}
}

// Reset clears the ingest rate-limit counter for one device, letting it send
// again before the current window expires.
func (h *LimitsHandler) Reset(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	if deviceID == "" {
		return domain.ErrBadRequest
	}

	if err := h.limiter.ResetLimit(c.Context(), deviceID); err != nil {
		return domain.ErrInternal.WithError(err)
	}

	h.logger.Info("ingest rate limit reset", "device_id", deviceID)
	return c.SendStatus(fiber.StatusNoContent)
}
