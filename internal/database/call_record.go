package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/leadline/leadline/internal/database/models"
)

// callRecordRepo implements CallRecordRepository.
type callRecordRepo struct {
	db *DB

	mu     sync.Mutex
	subs   map[int]func(models.CallRecord)
	nextID int
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db, subs: make(map[int]func(models.CallRecord))}
}

const callRecordColumns = `id, lead_name, phone, duration, outcome, started_at, agent, direction, lead_id, created_at`

// Create appends a call record and notifies subscribers. Records are never
// updated or deleted.
func (r *callRecordRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (lead_name, phone, duration, outcome, started_at, agent, direction, lead_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LeadName, rec.Phone, rec.Duration, rec.Outcome, rec.StartedAt,
		rec.Agent, rec.Direction, rec.LeadID,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id

	r.notify(*rec)
	return nil
}

// GetByID returns a call record by ID. Returns nil when not found.
func (r *callRecordRepo) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.LeadName, &rec.Phone, &rec.Duration, &rec.Outcome,
		&rec.StartedAt, &rec.Agent, &rec.Direction, &rec.LeadID, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying call record by id: %w", err)
	}
	return &rec, nil
}

// List returns call records matching the filter, along with the total count.
func (r *callRecordRepo) List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Outcome != "" {
		where += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	if filter.Search != "" {
		where += " AND (lead_name LIKE ? OR phone LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s)
	}
	if filter.StartDate != "" {
		where += " AND started_at >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		where += " AND started_at <= ?"
		args = append(args, filter.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	query := `SELECT ` + callRecordColumns + ` FROM call_records WHERE ` + where +
		` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	recs, err := scanCallRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// ListRecent returns the most recent call records up to the given limit.
func (r *callRecordRepo) ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent call records: %w", err)
	}
	defer rows.Close()
	return scanCallRecords(rows)
}

// ListByLead returns all call records attributed to a lead, newest first.
func (r *callRecordRepo) ListByLead(ctx context.Context, leadID int64) ([]models.CallRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE lead_id = ? ORDER BY started_at DESC`, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing call records by lead: %w", err)
	}
	defer rows.Close()
	return scanCallRecords(rows)
}

// CountByDirection returns record counts grouped by direction.
func (r *callRecordRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "direction")
}

// CountByOutcome returns record counts grouped by outcome.
func (r *callRecordRepo) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "outcome")
}

func (r *callRecordRepo) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM call_records GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("counting call records by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// Subscribe registers a listener for new call records.
func (r *callRecordRepo) Subscribe(fn func(models.CallRecord)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *callRecordRepo) notify(rec models.CallRecord) {
	r.mu.Lock()
	fns := make([]func(models.CallRecord), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func scanCallRecords(rows *sql.Rows) ([]models.CallRecord, error) {
	var recs []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.LeadName, &rec.Phone, &rec.Duration,
			&rec.Outcome, &rec.StartedAt, &rec.Agent, &rec.Direction,
			&rec.LeadID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call record row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call record rows: %w", err)
	}
	return recs, nil
}
