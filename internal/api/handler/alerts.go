package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/alert"
	"github.com/pulsegrid/pulsegrid/internal/domain"
)

type AlertsHandler struct {
	repo   *alert.Repository
	logger *slog.Logger
}

func NewAlertsHandler(repo *alert.Repository, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{
		repo:   repo,
		logger: logger,
	}
}

type transitionRequest struct {
	Actor string `json:"actor"`
}

func (h *AlertsHandler) List(c *fiber.Ctx) error {
	filters := alert.InstanceFilters{
		Status:   alert.Status(c.Query("status")),
		DeviceID: c.Query("device_id"),
		Limit:    c.QueryInt("limit"),
	}

	if raw := c.Query("rule_id"); raw != "" {
		ruleID, err := uuid.Parse(raw)
		if err != nil {
			return domain.ErrBadRequest.WithError(err)
		}
		filters.RuleID = &ruleID
	}

	instances, err := h.repo.ListInstances(c.Context(), filters)
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}

	if instances == nil {
		instances = []*alert.Instance{}
	}

	return c.JSON(fiber.Map{
		"alerts": instances,
	})
}

func (h *AlertsHandler) Acknowledge(c *fiber.Ctx) error {
	instanceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	var req transitionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return domain.ErrBadRequest.WithError(err)
	}

	if err := h.repo.Acknowledge(c.Context(), instanceID, req.Actor); err != nil {
		return err
	}

	h.logger.Info("alert acknowledged", "alert_id", instanceID, "actor", req.Actor)

	return c.JSON(fiber.Map{
		"status": alert.StatusAcknowledged,
	})
}

func (h *AlertsHandler) Resolve(c *fiber.Ctx) error {
	instanceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	var req transitionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return domain.ErrBadRequest.WithError(err)
	}

	if err := h.repo.Resolve(c.Context(), instanceID, req.Actor); err != nil {
		return err
	}

	h.logger.Info("alert resolved", "alert_id", instanceID, "actor", req.Actor)

	return c.JSON(fiber.Map{
		"status": alert.StatusResolved,
	})
}
