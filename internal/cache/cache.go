package cache

import (
	"context"

	"ventasync/backend/internal/domain"
)

// PeriodCache holds short-lived period snapshots so the closed-period
// check does not hit the Ledger on every upload. Entries are deleted
// whenever a replace or close mutates the period.
type PeriodCache interface {
	Get(ctx context.Context, month int, year int) (domain.PeriodSnapshot, bool, error)
	Set(ctx context.Context, month int, year int, snap domain.PeriodSnapshot) error
	Delete(ctx context.Context, month int, year int) error
}

type NoopPeriodCache struct{}

func (NoopPeriodCache) Get(_ context.Context, _ int, _ int) (domain.PeriodSnapshot, bool, error) {
	return domain.PeriodSnapshot{}, false, nil
}

func (NoopPeriodCache) Set(_ context.Context, _ int, _ int, _ domain.PeriodSnapshot) error {
	return nil
}

func (NoopPeriodCache) Delete(_ context.Context, _ int, _ int) error {
	return nil
}
