package period

import (
	"context"
	"errors"
	"log"
	"time"

	"ventasync/backend/internal/cache"
	"ventasync/backend/internal/domain"
	"ventasync/backend/internal/store"
)

// SchedulingPolicy carries the closing-day configuration for one
// orchestrator run. ClosingDay is the day-of-month on which a successful
// upload may offer to close the period; 0 disables the prompt. Now is
// injectable for tests.
type SchedulingPolicy struct {
	ClosingDay int
	Now        func() time.Time
}

func (p SchedulingPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Manager owns the Period lifecycle. It is the only component that
// transitions periods, and the transition is monotonic: open -> closed.
type Manager struct {
	repo   store.Repository
	cache  cache.PeriodCache
	policy SchedulingPolicy
}

func New(repo store.Repository, periodCache cache.PeriodCache, policy SchedulingPolicy) *Manager {
	if periodCache == nil {
		periodCache = cache.NoopPeriodCache{}
	}
	return &Manager{repo: repo, cache: periodCache, policy: policy}
}

// CurrentTargetPeriod derives the period a non-historical upload applies
// to from the current date.
func (m *Manager) CurrentTargetPeriod() domain.TargetPeriod {
	now := m.policy.now()
	return domain.TargetPeriod{
		Month:        int(now.Month()),
		Year:         now.Year(),
		IsClosingDay: m.policy.ClosingDay > 0 && now.Day() == m.policy.ClosingDay,
	}
}

// IsClosingDay reports whether the policy's closing-day marker is today.
func (m *Manager) IsClosingDay() bool {
	return m.policy.ClosingDay > 0 && m.policy.now().Day() == m.policy.ClosingDay
}

// IsPeriodClosed answers "is this (month, year) writable". A period that
// was never created is open. The snapshot cache is consulted first; a
// cache failure falls through to the Ledger.
func (m *Manager) IsPeriodClosed(ctx context.Context, month int, year int) (bool, error) {
	if snap, ok, err := m.cache.Get(ctx, month, year); err == nil && ok {
		return snap.State == domain.PeriodStateClosed, nil
	} else if err != nil {
		log.Printf("[period] WARN: snapshot cache get %04d-%02d: %v", year, month, err)
	}

	p, err := m.repo.GetPeriod(ctx, month, year)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	m.cacheSnapshot(ctx, *p)
	return p.Closed(), nil
}

// GetOrCreatePeriod idempotently ensures a Period row exists before the
// first write for that (month, year).
func (m *Manager) GetOrCreatePeriod(ctx context.Context, month int, year int) (*domain.Period, error) {
	return m.repo.EnsurePeriod(ctx, month, year)
}

// ClosePeriod transitions open/closing_day -> closed, capturing the
// aggregate totals. Closing twice returns store.ErrAlreadyClosed.
func (m *Manager) ClosePeriod(ctx context.Context, month int, year int, totals domain.PeriodTotals) (*domain.Period, error) {
	closed, err := m.repo.ClosePeriod(ctx, month, year, totals, m.policy.now())
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, month, year)
	log.Printf("[period] closed %04d-%02d records=%d total=%s", year, month, totals.RecordCount, totals.TotalAmount.String())
	return closed, nil
}

// Invalidate drops the cached snapshot after a replace touched the
// period's stored records.
func (m *Manager) Invalidate(ctx context.Context, month int, year int) {
	m.invalidate(ctx, month, year)
}

func (m *Manager) invalidate(ctx context.Context, month int, year int) {
	if err := m.cache.Delete(ctx, month, year); err != nil {
		log.Printf("[period] WARN: snapshot cache delete %04d-%02d: %v", year, month, err)
	}
}

func (m *Manager) cacheSnapshot(ctx context.Context, p domain.Period) {
	snap := domain.PeriodSnapshot{State: p.State, RecordCount: p.RecordCount}
	if err := m.cache.Set(ctx, p.Month, p.Year, snap); err != nil {
		log.Printf("[period] WARN: snapshot cache set %04d-%02d: %v", p.Year, p.Month, err)
	}
}
