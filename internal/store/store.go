package store

import (
	"context"
	"errors"
	"time"

	"ventasync/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyClosed    = errors.New("period already closed")
	ErrPeriodClosed     = errors.New("period is closed")
	ErrAttemptFinalized = errors.New("upload attempt already finalized")
	ErrInvalidUpload    = errors.New("invalid upload")
)

// Repository is the Ledger: the record store this pipeline reads counts
// from and writes period replacements to. ReplacePeriodRecords is the only
// destructive operation and must be atomic: on success the period holds
// exactly the new batch, on failure the prior records are untouched.
type Repository interface {
	GetPeriod(ctx context.Context, month int, year int) (*domain.Period, error)
	EnsurePeriod(ctx context.Context, month int, year int) (*domain.Period, error)
	ClosePeriod(ctx context.Context, month int, year int, totals domain.PeriodTotals, closedAt time.Time) (*domain.Period, error)
	ListPeriods(ctx context.Context) ([]domain.Period, error)

	ListPeriodRecords(ctx context.Context, month int, year int, offset int, limit int) ([]domain.SalesRecord, error)
	ReplacePeriodRecords(ctx context.Context, month int, year int, records []domain.SalesRecord) (domain.ReplaceResult, error)

	CreateUploadAttempt(ctx context.Context, attempt domain.UploadAttempt) (*domain.UploadAttempt, error)
	FinalizeUploadAttempt(ctx context.Context, id string, state string, recordsProcessed *int, errorMessage string, at time.Time) (*domain.UploadAttempt, error)
	GetUploadAttempt(ctx context.Context, id string) (*domain.UploadAttempt, error)
	ListUploadAttempts(ctx context.Context, limit int) ([]domain.UploadAttempt, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
