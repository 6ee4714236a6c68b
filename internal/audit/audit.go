package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a single audit log entry.
type Entry struct {
	ID         int64           `json:"id"`
	UserID     *string         `json:"user_id"`
	ActivityID *int64          `json:"activity_id"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Details    json.RawMessage `json:"details"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ListParams holds the query filters for listing audit entries.
type ListParams struct {
	UserID     string
	ActivityID int64
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Recorder persists audit entries.
type Recorder interface {
	Insert(ctx context.Context, userID *string, activityID *int64, action, resource string, details json.RawMessage) error
}

// Store provides access to the audit_log table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new audit Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert records a new audit log entry.
func (s *Store) Insert(ctx context.Context, userID *string, activityID *int64, action, resource string, details json.RawMessage) error {
	if details == nil {
		details = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (user_id, activity_id, action, resource, details)
		 VALUES ($1::bigint, $2, $3, $4, $5)`,
		userID, activityID, action, resource, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// buildListQuery returns the page query, the count query and their shared
// filter arguments. The page query takes two extra arguments: limit, offset.
func buildListQuery(params ListParams) (string, string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}

	if params.UserID != "" {
		add(`user_id::text =`, params.UserID)
	}
	if params.ActivityID > 0 {
		add(`activity_id =`, params.ActivityID)
	}
	if params.Action != "" {
		add(`action =`, params.Action)
	}
	if !params.From.IsZero() {
		add(`timestamp >=`, params.From)
	}
	if !params.To.IsZero() {
		add(`timestamp <=`, params.To)
	}

	page := `SELECT id, user_id::text, activity_id, action, resource, details, timestamp FROM audit_log` + where +
		` ORDER BY timestamp DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	count := `SELECT COUNT(*) FROM audit_log` + where
	return page, count, args
}

// normalize clamps paging parameters.
func (p *ListParams) normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// List returns audit log entries matching the given filters.
func (s *Store) List(ctx context.Context, params ListParams) ([]Entry, int, error) {
	params.normalize()
	page, count, args := buildListQuery(params)

	var total int
	if err := s.pool.QueryRow(ctx, count, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := s.pool.Query(ctx, page, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActivityID, &e.Action, &e.Resource, &e.Details, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
