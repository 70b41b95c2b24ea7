package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

// Insert stores an event. Re-inserting the same id is a no-op, which makes
// at-least-once delivery from the ingest path safe.
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO events (id, device_id, source, type, data, tags, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		e.ID, e.DeviceID, e.Source, e.Type, data, tags, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// Query returns events matching the filters, newest first.
func (r *Repository) Query(ctx context.Context, f Filters) ([]*Event, error) {
	query, args := buildEventQuery(f, "timestamp DESC")

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryWindow returns events in [start, end] matching the filters, in ascending
// timestamp order. Used by replay, which depends on that ordering.
func (r *Repository) QueryWindow(ctx context.Context, start, end time.Time, f Filters) ([]*Event, error) {
	f.Start = &start
	f.End = &end
	query, args := buildEventQuery(f, "timestamp ASC")

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func buildEventQuery(f Filters, order string) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(f.Sources) > 0 {
		where = append(where, "source = ANY("+arg(f.Sources)+")")
	}
	if len(f.Types) > 0 {
		where = append(where, "type = ANY("+arg(f.Types)+")")
	}
	if len(f.DeviceIDs) > 0 {
		where = append(where, "device_id = ANY("+arg(f.DeviceIDs)+")")
	}
	if len(f.Tags) > 0 {
		// Any overlapping tag matches.
		var ors []string
		for _, tag := range f.Tags {
			tagJSON, _ := json.Marshal([]string{tag})
			ors = append(ors, "tags @> "+arg(tagJSON)+"::jsonb")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if f.Start != nil {
		where = append(where, "timestamp >= "+arg(*f.Start))
	}
	if f.End != nil {
		where = append(where, "timestamp <= "+arg(*f.End))
	}

	query := `SELECT id, device_id, source, type, data, tags, timestamp, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += " LIMIT " + arg(limit)

	return query, args
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		var data, tags []byte

		err := rows.Scan(
			&e.ID, &e.DeviceID, &e.Source, &e.Type,
			&data, &tags, &e.Timestamp, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}

		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &e.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}
