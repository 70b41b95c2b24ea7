package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulsegrid/pulsegrid/internal/domain"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `id, name, description, device_id, conditions, severity, enabled,
	       channels, email_recipients, webhook_url, webhook_secret,
	       cooldown_seconds, created_by, created_at, updated_at`

func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}

	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	recipients, err := json.Marshal(rule.EmailRecipients)
	if err != nil {
		return fmt.Errorf("marshal email recipients: %w", err)
	}

	query := `
		INSERT INTO alert_rules (
			name, description, device_id, conditions, severity, enabled,
			channels, email_recipients, webhook_url, webhook_secret,
			cooldown_seconds, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.Name, rule.Description, rule.DeviceID, conditions, rule.Severity,
		rule.Enabled, channels, recipients, rule.WebhookURL, rule.WebhookSecret,
		rule.CooldownSeconds, rule.CreatedBy,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}

	return nil
}

func (r *Repository) GetRule(ctx context.Context, ruleID uuid.UUID) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}

	return rule, nil
}

func (r *Repository) ListRules(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// ListEnabledForDevice returns enabled rules scoped to the device plus global
// (unscoped) rules. This is the dispatcher's candidate set for a reading.
func (r *Repository) ListEnabledForDevice(ctx context.Context, deviceID string) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE enabled = true AND (device_id IS NULL OR device_id = $1)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

func (r *Repository) UpdateRule(ctx context.Context, rule *Rule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}

	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	recipients, err := json.Marshal(rule.EmailRecipients)
	if err != nil {
		return fmt.Errorf("marshal email recipients: %w", err)
	}

	query := `
		UPDATE alert_rules
		SET name = $2, description = $3, device_id = $4, conditions = $5,
		    severity = $6, enabled = $7, channels = $8, email_recipients = $9,
		    webhook_url = $10, webhook_secret = $11, cooldown_seconds = $12,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.DeviceID, conditions,
		rule.Severity, rule.Enabled, channels, recipients,
		rule.WebhookURL, rule.WebhookSecret, rule.CooldownSeconds,
	).Scan(&rule.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRuleNotFound
		}
		return fmt.Errorf("update rule: %w", err)
	}

	return nil
}

func (r *Repository) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrRuleNotFound
	}

	return nil
}

// InsertInstance persists a new firing. Re-inserting the same id is silently
// skipped; the returned bool reports whether a row was actually written.
func (r *Repository) InsertInstance(ctx context.Context, inst *Instance) (bool, error) {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}

	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO alert_instances (
			id, rule_id, rule_name, device_id, severity, message,
			status, fired_at, event_id, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query,
		inst.ID, inst.RuleID, inst.RuleName, inst.DeviceID, inst.Severity,
		inst.Message, inst.Status, inst.FiredAt, inst.EventID, metadata,
	)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

const instanceColumns = `id, rule_id, rule_name, device_id, severity, message, status,
	       fired_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	       event_id, metadata, created_at`

// LatestInstance returns the most recent firing of the rule for the device,
// or nil if it has never fired.
func (r *Repository) LatestInstance(ctx context.Context, ruleID uuid.UUID, deviceID string) (*Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM alert_instances
		WHERE rule_id = $1 AND device_id = $2
		ORDER BY fired_at DESC
		LIMIT 1`

	inst, err := scanInstance(r.db.QueryRow(ctx, query, ruleID, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest instance: %w", err)
	}

	return inst, nil
}

type InstanceFilters struct {
	Status   Status
	DeviceID string
	RuleID   *uuid.UUID
	Limit    int
}

func (r *Repository) ListInstances(ctx context.Context, f InstanceFilters) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM alert_instances
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR device_id = $2)
		  AND ($3::uuid IS NULL OR rule_id = $3)
		ORDER BY fired_at DESC
		LIMIT $4`

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, query, string(f.Status), f.DeviceID, f.RuleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

// Acknowledge moves an active instance to acknowledged. The status guard in
// the WHERE clause is what enforces the forward-only lifecycle.
func (r *Repository) Acknowledge(ctx context.Context, instanceID uuid.UUID, actor string) error {
	query := `
		UPDATE alert_instances
		SET status = 'acknowledged', acknowledged_at = NOW(), acknowledged_by = $2
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.Exec(ctx, query, instanceID, actor)
	if err != nil {
		return fmt.Errorf("acknowledge instance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.transitionError(ctx, instanceID)
	}

	return nil
}

// Resolve moves an active or acknowledged instance to resolved.
func (r *Repository) Resolve(ctx context.Context, instanceID uuid.UUID, actor string) error {
	query := `
		UPDATE alert_instances
		SET status = 'resolved', resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND status IN ('active', 'acknowledged')
	`

	result, err := r.db.Exec(ctx, query, instanceID, actor)
	if err != nil {
		return fmt.Errorf("resolve instance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.transitionError(ctx, instanceID)
	}

	return nil
}

func (r *Repository) transitionError(ctx context.Context, instanceID uuid.UUID) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_instances WHERE id = $1)`, instanceID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check instance: %w", err)
	}

	if !exists {
		return domain.ErrAlertNotFound
	}
	return domain.ErrAlertTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var conditions, channels, recipients []byte

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.DeviceID, &conditions,
		&rule.Severity, &rule.Enabled, &channels, &recipients,
		&rule.WebhookURL, &rule.WebhookSecret, &rule.CooldownSeconds,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}

	if err := json.Unmarshal(channels, &rule.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}

	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &rule.EmailRecipients); err != nil {
			return nil, fmt.Errorf("unmarshal email recipients: %w", err)
		}
	}

	return &rule, nil
}

func scanRules(rows pgx.Rows) ([]*Rule, error) {
	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	var metadata []byte

	err := row.Scan(
		&inst.ID, &inst.RuleID, &inst.RuleName, &inst.DeviceID, &inst.Severity,
		&inst.Message, &inst.Status, &inst.FiredAt,
		&inst.AcknowledgedAt, &inst.AcknowledgedBy,
		&inst.ResolvedAt, &inst.ResolvedBy,
		&inst.EventID, &metadata, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inst.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &inst, nil
}
