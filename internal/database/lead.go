package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/leadline/leadline/internal/database/models"
)

// leadRepo implements LeadRepository.
type leadRepo struct {
	db *DB

	mu     sync.Mutex
	subs   map[int]func(models.Lead)
	nextID int
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(db *DB) LeadRepository {
	return &leadRepo{db: db, subs: make(map[int]func(models.Lead))}
}

const leadColumns = `id, name, phone, company, email, status, notes, created_at, updated_at`

// Create inserts a new lead and notifies subscribers.
func (r *leadRepo) Create(ctx context.Context, lead *models.Lead) error {
	if lead.Status == "" {
		lead.Status = models.LeadStatusNew
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (name, phone, company, email, status, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		lead.Name, lead.Phone, lead.Company, lead.Email, lead.Status, lead.Notes,
	)
	if err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	lead.ID = id

	r.notify(*lead)
	return nil
}

// GetByID returns a lead by ID. Returns nil when not found.
func (r *leadRepo) GetByID(ctx context.Context, id int64) (*models.Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
}

// GetByPhone returns the most recently created lead with the given phone
// number. Returns nil when not found.
func (r *leadRepo) GetByPhone(ctx context.Context, phone string) (*models.Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE phone = ? ORDER BY id DESC LIMIT 1`, phone))
}

// List returns leads matching the filter, along with the total count.
func (r *leadRepo) List(ctx context.Context, filter LeadListFilter) ([]models.Lead, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND (name LIKE ? OR phone LIKE ? OR company LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s, s)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting leads: %w", err)
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + where +
		` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone, &l.Company, &l.Email,
			&l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating lead rows: %w", err)
	}
	return leads, total, nil
}

// Update modifies an existing lead.
func (r *leadRepo) Update(ctx context.Context, lead *models.Lead) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, phone = ?, company = ?, email = ?, status = ?,
		 notes = ?, updated_at = datetime('now') WHERE id = ?`,
		lead.Name, lead.Phone, lead.Company, lead.Email, lead.Status, lead.Notes, lead.ID,
	)
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}
	return nil
}

// Delete removes a lead. Call records keep their lead_id cleared via the
// foreign key's ON DELETE SET NULL.
func (r *leadRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting lead: %w", err)
	}
	return nil
}

// Subscribe registers a listener for newly created leads.
func (r *leadRepo) Subscribe(fn func(models.Lead)) func() {
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

func (r *leadRepo) notify(lead models.Lead) {
	r.mu.Lock()
	fns := make([]func(models.Lead), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(lead)
	}
}

func (r *leadRepo) scanOne(row *sql.Row) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.Company, &l.Email,
		&l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying lead: %w", err)
	}
	return &l, nil
}
