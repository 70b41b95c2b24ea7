package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/alert"
	"github.com/pulsegrid/pulsegrid/internal/domain"
)

type RulesHandler struct {
	repo   *alert.Repository
	logger *slog.Logger
}

func NewRulesHandler(repo *alert.Repository, logger *slog.Logger) *RulesHandler {
	return &RulesHandler{
		repo:   repo,
		logger: logger,
	}
}

type CreateRuleRequest struct {
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	DeviceID        *string             `json:"device_id"`
	Conditions      []alert.Condition   `json:"conditions"`
	Severity        alert.Severity      `json:"severity"`
	Enabled         *bool               `json:"enabled"`
	Channels        []alert.ChannelType `json:"channels"`
	EmailRecipients []string            `json:"email_recipients"`
	WebhookURL      string              `json:"webhook_url"`
	WebhookSecret   string              `json:"webhook_secret"`
	CooldownSeconds int                 `json:"cooldown_seconds"`
	CreatedBy       *string             `json:"created_by"`
}

type UpdateRuleRequest struct {
	Name            *string             `json:"name,omitempty"`
	Description     *string             `json:"description,omitempty"`
	DeviceID        *string             `json:"device_id,omitempty"`
	Conditions      []alert.Condition   `json:"conditions,omitempty"`
	Severity        *alert.Severity     `json:"severity,omitempty"`
	Enabled         *bool               `json:"enabled,omitempty"`
	Channels        []alert.ChannelType `json:"channels,omitempty"`
	EmailRecipients []string            `json:"email_recipients,omitempty"`
	WebhookURL      *string             `json:"webhook_url,omitempty"`
	WebhookSecret   *string             `json:"webhook_secret,omitempty"`
	CooldownSeconds *int                `json:"cooldown_seconds,omitempty"`
}

func (h *RulesHandler) List(c *fiber.Ctx) error {
	rules, err := h.repo.ListRules(c.Context())
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}

	if rules == nil {
		rules = []*alert.Rule{}
	}

	return c.JSON(fiber.Map{
		"rules": rules,
	})
}

func (h *RulesHandler) Get(c *fiber.Ctx) error {
	ruleID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	rule, err := h.repo.GetRule(c.Context(), ruleID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"rule": rule,
	})
}

func (h *RulesHandler) Create(c *fiber.Ctx) error {
	var req CreateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &alert.Rule{
		Name:            req.Name,
		Description:     req.Description,
		DeviceID:        req.DeviceID,
		Conditions:      req.Conditions,
		Severity:        req.Severity,
		Enabled:         enabled,
		Channels:        req.Channels,
		EmailRecipients: req.EmailRecipients,
		WebhookURL:      req.WebhookURL,
		WebhookSecret:   req.WebhookSecret,
		CooldownSeconds: req.CooldownSeconds,
		CreatedBy:       req.CreatedBy,
	}

	if err := rule.Validate(); err != nil {
		return err
	}

	if err := h.repo.CreateRule(c.Context(), rule); err != nil {
		return domain.ErrInternal.WithError(err)
	}

	h.logger.Info("alert rule created",
		"rule_id", rule.ID,
		"name", rule.Name,
		"severity", rule.Severity,
	)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"rule": rule,
	})
}

func (h *RulesHandler) Update(c *fiber.Ctx) error {
	ruleID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	var req UpdateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	rule, err := h.repo.GetRule(c.Context(), ruleID)
	if err != nil {
		return err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.DeviceID != nil {
		if *req.DeviceID == "" {
			rule.DeviceID = nil
		} else {
			rule.DeviceID = req.DeviceID
		}
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Severity != nil {
		rule.Severity = *req.Severity
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Channels != nil {
		rule.Channels = req.Channels
	}
	if req.EmailRecipients != nil {
		rule.EmailRecipients = req.EmailRecipients
	}
	if req.WebhookURL != nil {
		rule.WebhookURL = *req.WebhookURL
	}
	if req.WebhookSecret != nil {
		rule.WebhookSecret = *req.WebhookSecret
	}
	if req.CooldownSeconds != nil {
		rule.CooldownSeconds = *req.CooldownSeconds
	}

	if err := rule.Validate(); err != nil {
		return err
	}

	if err := h.repo.UpdateRule(c.Context(), rule); err != nil {
		return err
	}

	h.logger.Info("alert rule updated", "rule_id", rule.ID, "name", rule.Name)

	return c.JSON(fiber.Map{
		"rule": rule,
	})
}

func (h *RulesHandler) Delete(c *fiber.Ctx) error {
	ruleID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	if err := h.repo.DeleteRule(c.Context(), ruleID); err != nil {
		return err
	}

	h.logger.Info("alert rule deleted", "rule_id", ruleID)

	return c.SendStatus(fiber.StatusNoContent)
}
