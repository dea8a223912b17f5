package database

import (
	"context"

	"github.com/leadline/leadline/internal/database/models"
)

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}

// AdminUserRepository manages dashboard users.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByID(ctx context.Context, id int64) (*models.AdminUser, error)
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	List(ctx context.Context) ([]models.AdminUser, error)
	Update(ctx context.Context, user *models.AdminUser) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// LeadListFilter specifies filtering and pagination for lead list queries.
type LeadListFilter struct {
	Limit  int
	Offset int
	Search string // matches name, phone, or company
	Status string
}

// LeadRepository manages leads/contacts. Subscribers are notified whenever
// a new lead is created, including the stubs minted for ad hoc dials.
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id int64) (*models.Lead, error)
	GetByPhone(ctx context.Context, phone string) (*models.Lead, error)
	List(ctx context.Context, filter LeadListFilter) ([]models.Lead, int, error)
	Update(ctx context.Context, lead *models.Lead) error
	Delete(ctx context.Context, id int64) error
	Subscribe(fn func(models.Lead)) (unsubscribe func())
}

// CallRecordListFilter specifies filtering and pagination for call record
// list queries.
type CallRecordListFilter struct {
	Limit     int
	Offset    int
	Search    string // matches lead_name or phone
	Direction string
	Outcome   string
	StartDate string
	EndDate   string
}

// CallRecordRepository manages the append-only call history.
type CallRecordRepository interface {
	Create(ctx context.Context, rec *models.CallRecord) error
	GetByID(ctx context.Context, id int64) (*models.CallRecord, error)
	List(ctx context.Context, filter CallRecordListFilter) ([]models.CallRecord, int, error)
	ListRecent(ctx context.Context, limit int) ([]models.CallRecord, error)
	ListByLead(ctx context.Context, leadID int64) ([]models.CallRecord, error)
	CountByDirection(ctx context.Context) (map[string]int64, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
	Subscribe(fn func(models.CallRecord)) (unsubscribe func())
}
