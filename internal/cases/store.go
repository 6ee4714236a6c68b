package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists activities and their comments.
type Store interface {
	Get(ctx context.Context, id int64) (*Activity, error)
	// Assign sets the assignee ("" to unassign) and returns the updated
	// activity along with the previous assignee.
	Assign(ctx context.Context, id int64, assigneeID string) (*Activity, string, error)
	// UpdateState returns the updated activity and the state it left.
	UpdateState(ctx context.Context, id int64, state string) (*Activity, string, error)
	AddComment(ctx context.Context, activityID int64, authorID, body string) (*Comment, error)
	// ListOverdue returns assigned, open activities due before now that have
	// not been flagged yet.
	ListOverdue(ctx context.Context, now time.Time) ([]Activity, error)
	// MarkOverdueNotified flags an activity. It reports false when another
	// sweeper already did.
	MarkOverdueNotified(ctx context.Context, id int64, at time.Time) (bool, error)
}

const activityColumns = `id, case_ref, activity_type, title, state,
	COALESCE(assignee_id::text, ''), due_at, overdue_notified_at, updated_at`

// PGStore is the PostgreSQL Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.CaseRef, &a.ActivityType, &a.Title, &a.State,
		&a.AssigneeID, &a.DueAt, &a.OverdueNotifiedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Activity, error) {
	a, err := scanActivity(s.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get activity %d: %w", id, err)
	}
	return a, err
}

func (s *PGStore) Assign(ctx context.Context, id int64, assigneeID string) (*Activity, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("assign activity %d: begin tx: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var previous string
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(assignee_id::text, '') FROM activities WHERE id = $1 FOR UPDATE`, id,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("assign activity %d: %w", id, err)
	}

	a, err := scanActivity(tx.QueryRow(ctx,
		`UPDATE activities SET assignee_id = NULLIF($2, '')::bigint, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+activityColumns, id, assigneeID))
	if err != nil {
		return nil, "", fmt.Errorf("assign activity %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("assign activity %d: commit: %w", id, err)
	}
	return a, previous, nil
}

func (s *PGStore) UpdateState(ctx context.Context, id int64, state string) (*Activity, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("update activity %d: begin tx: %w", id, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var previous string
	err = tx.QueryRow(ctx, `SELECT state FROM activities WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("update activity %d: %w", id, err)
	}

	a, err := scanActivity(tx.QueryRow(ctx,
		`UPDATE activities SET state = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+activityColumns, id, state))
	if err != nil {
		return nil, "", fmt.Errorf("update activity %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("update activity %d: commit: %w", id, err)
	}
	return a, previous, nil
}

func (s *PGStore) AddComment(ctx context.Context, activityID int64, authorID, body string) (*Comment, error) {
	c := Comment{ActivityID: activityID, AuthorID: authorID, Body: body}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO activity_comments (activity_id, author_id, body)
		 VALUES ($1, $2::bigint, $3)
		 RETURNING id, created_at`,
		activityID, authorID, body,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add comment to activity %d: %w", activityID, err)
	}
	return &c, nil
}

func (s *PGStore) ListOverdue(ctx context.Context, now time.Time) ([]Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE due_at < $1
		   AND overdue_notified_at IS NULL
		   AND assignee_id IS NOT NULL
		   AND state NOT IN ('completed', 'cancelled')
		 ORDER BY due_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkOverdueNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.pool.Exec(ctx,
		`UPDATE activities SET overdue_notified_at = $2
		 WHERE id = $1 AND overdue_notified_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark activity %d overdue: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}
