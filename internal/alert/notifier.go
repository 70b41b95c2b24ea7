package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pulsegrid/pulsegrid/internal/webhook"
)

// LivePublisher pushes an alert to subscribed live sessions (the ui channel).
type LivePublisher interface {
	PublishAlert(inst *Instance)
}

// EmailSender delivers an alert notification to a recipient list.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// WebhookSender posts an alert payload to a rule's webhook URL.
type WebhookSender interface {
	Send(ctx context.Context, url, secret string, payload webhook.AlertPayload) error
}

// Outcome is the result of one channel's delivery attempt.
type Outcome struct {
	Channel ChannelType
	Err     error
}

// Notifier fans an alert instance out to the rule's channels. Channels run
// concurrently and every one runs to completion regardless of the others;
// the instance's persisted state is never touched on failure.
type Notifier struct {
	live    LivePublisher
	email   EmailSender
	webhook WebhookSender
	logger  *slog.Logger
}

func NewNotifier(live LivePublisher, email EmailSender, wh WebhookSender, logger *slog.Logger) *Notifier {
	return &Notifier{
		live:    live,
		email:   email,
		webhook: wh,
		logger:  logger,
	}
}

func (n *Notifier) Dispatch(ctx context.Context, inst *Instance, rule *Rule) []Outcome {
	outcomes := make([]Outcome, len(rule.Channels))

	var wg sync.WaitGroup
	for i, channel := range rule.Channels {
		wg.Add(1)
		go func(i int, channel ChannelType) {
			defer wg.Done()
			outcomes[i] = Outcome{
				Channel: channel,
				Err:     n.sendToChannel(ctx, channel, inst, rule),
			}
		}(i, channel)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			n.logger.Error("notification channel failed",
				"channel", o.Channel,
				"alert_id", inst.ID,
				"rule_id", rule.ID,
				"error", o.Err,
			)
		}
	}

	return outcomes
}

func (n *Notifier) sendToChannel(ctx context.Context, channel ChannelType, inst *Instance, rule *Rule) error {
	switch channel {
	case ChannelUI:
		n.live.PublishAlert(inst)
		return nil
	case ChannelEmail:
		return n.sendEmail(ctx, inst, rule)
	case ChannelWebhook:
		return n.sendWebhook(ctx, inst, rule)
	default:
		return fmt.Errorf("unsupported channel type: %s", channel)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, inst *Instance, rule *Rule) error {
	if len(rule.EmailRecipients) == 0 {
		// No recipients configured is a no-op, not an error.
		n.logger.Debug("email channel skipped, no recipients", "rule_id", rule.ID)
		return nil
	}

	subject := fmt.Sprintf("[%s] %s", inst.Severity, inst.RuleName)
	body := fmt.Sprintf("%s\n\nDevice: %s\nSeverity: %s\nFired at: %s\n",
		inst.Message, inst.DeviceID, inst.Severity, inst.FiredAt.Format("2006-01-02 15:04:05 MST"))

	if err := n.email.Send(ctx, rule.EmailRecipients, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (n *Notifier) sendWebhook(ctx context.Context, inst *Instance, rule *Rule) error {
	if rule.WebhookURL == "" {
		n.logger.Debug("webhook channel skipped, no url", "rule_id", rule.ID)
		return nil
	}

	payload := webhook.AlertPayload{
		AlertID:  inst.ID,
		RuleID:   inst.RuleID,
		RuleName: inst.RuleName,
		DeviceID: inst.DeviceID,
		Severity: string(inst.Severity),
		Message:  inst.Message,
		FiredAt:  inst.FiredAt,
	}

	if err := n.webhook.Send(ctx, rule.WebhookURL, rule.WebhookSecret, payload); err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}

	return nil
}
