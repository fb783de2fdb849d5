package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ventasync/backend/internal/domain"
	"ventasync/backend/internal/extract"
	"ventasync/backend/internal/period"
	"ventasync/backend/internal/store"
)

var (
	ErrOutOfRangeBatch     = errors.New("batch does not belong to the target period")
	ErrDecisionNotFound    = errors.New("pending decision not found or expired")
	ErrHistoricalForbidden = errors.New("historical backfill requires admin role")
)

// recordPageSize bounds every Ledger read; previous counts are computed
// with an explicit offset loop rather than one unbounded query.
const recordPageSize = 500

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the ingestion orchestrator. It owns the UploadAttempt
// lifecycle end to end: it alone decides when an attempt is created and
// when it reaches its single terminal state.
type Service struct {
	repo      store.Repository
	periods   *period.Manager
	decisions *decisionRegistry

	lockMu      sync.Mutex
	periodLocks map[string]*sync.Mutex
}

func New(repo store.Repository, periods *period.Manager, decisionTTL time.Duration) *Service {
	s := &Service{
		repo:        repo,
		periods:     periods,
		decisions:   newDecisionRegistry(decisionTTL),
		periodLocks: make(map[string]*sync.Mutex),
	}
	// An abandoned regression confirmation must not strand its attempt
	// in processing; expiry finalizes it cancelled.
	s.decisions.onExpire = func(d pendingDecision) {
		if d.Kind != domain.DecisionRegression || d.AttemptID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.repo.FinalizeUploadAttempt(ctx, d.AttemptID, domain.AttemptStateCancelled, nil, "confirmation expired", time.Now().UTC()); err != nil {
			log.Printf("[service] WARN: expire attempt %s: %v", d.AttemptID, err)
		}
	}
	return s
}

// periodLock returns the advisory lock serializing uploads to one
// (month, year). Single flight per period; the map only ever grows by a
// handful of entries per year.
func (s *Service) periodLock(month int, year int) *sync.Mutex {
	key := fmt.Sprintf("%04d-%02d", year, month)
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.periodLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.periodLocks[key] = lock
	}
	return lock
}

// Upload runs one file through parse, normalize, validate and replace.
// Structural and date-range failures return before any UploadAttempt
// exists: nothing was attempted, nothing is audited. A regression flags
// a pending decision instead of proceeding. The Ledger is only touched
// once the batch is accepted or explicitly confirmed.
func (s *Service) Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadOutcome, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "upload.csv"
	}
	if strings.TrimSpace(req.Content) == "" {
		return domain.UploadOutcome{}, fmt.Errorf("%w: %s", extract.ErrMalformedFile, filename)
	}

	header, rows, err := extract.Parse(req.Content)
	if err != nil {
		return domain.UploadOutcome{}, err
	}
	index, err := extract.IndexHeaders(header)
	if err != nil {
		return domain.UploadOutcome{}, err
	}
	records := extract.MapRecords(rows, index)

	target, err := s.resolveTarget(ctx, req.Historical)
	if err != nil {
		return domain.UploadOutcome{}, err
	}

	// Closed periods reject before any audit entry. Historical backfill
	// skips the check so admins can rewrite past months.
	if !target.Historical {
		closed, err := s.periods.IsPeriodClosed(ctx, target.Month, target.Year)
		if err != nil {
			return domain.UploadOutcome{}, err
		}
		if closed {
			return domain.UploadOutcome{}, fmt.Errorf("%w: %04d-%02d", store.ErrPeriodClosed, target.Year, target.Month)
		}
	}

	total, inMonth := checkBatch(records, target)
	if inMonth*2 < total {
		return domain.UploadOutcome{}, fmt.Errorf("%w: %d of %d rows dated in %04d-%02d",
			ErrOutOfRangeBatch, inMonth, total, target.Year, target.Month)
	}

	previousCount, err := s.countPeriodRecords(ctx, target.Month, target.Year)
	if err != nil {
		return domain.UploadOutcome{}, fmt.Errorf("previous count: %w", err)
	}

	actor, _ := ActorFromContext(ctx)
	attempt, err := s.repo.CreateUploadAttempt(ctx, domain.UploadAttempt{
		Filename:      filename,
		Month:         target.Month,
		Year:          target.Year,
		State:         domain.AttemptStateProcessing,
		ActorUsername: actor.Username,
	})
	if err != nil {
		return domain.UploadOutcome{}, fmt.Errorf("create upload attempt: %w", err)
	}

	// The regression comparison uses the insertable count, not the raw
	// row count: invalid rows never reach the Ledger, so a batch padded
	// with bad rows must not shrink stored data without a confirmation.
	insertable := countInsertable(records)
	if insertable < previousCount {
		pending := s.decisions.put(pendingDecision{
			Kind:          domain.DecisionRegression,
			AttemptID:     attempt.ID,
			Target:        target,
			Records:       records,
			PreviousCount: previousCount,
		}, domain.PendingDecision{
			Kind:      domain.DecisionRegression,
			Month:     target.Month,
			Year:      target.Year,
			AttemptID: attempt.ID,
			Previous:  previousCount,
			Current:   insertable,
			Message:   fmt.Sprintf("new batch has %d insertable rows but %d are currently stored", insertable, previousCount),
		})
		log.Printf("[service] regression flagged attempt=%s period=%04d-%02d previous=%d current=%d",
			attempt.ID, target.Year, target.Month, previousCount, insertable)
		return domain.UploadOutcome{Pending: &pending}, nil
	}

	result, err := s.replace(ctx, attempt.ID, target, records, previousCount)
	if err != nil {
		return domain.UploadOutcome{}, err
	}
	return domain.UploadOutcome{Result: result}, nil
}

// ConfirmDecision resumes a pending decision: a confirmed regression
// proceeds into the replace, a confirmed close prompt closes the period.
func (s *Service) ConfirmDecision(ctx context.Context, token string) (domain.DecisionResult, error) {
	d, ok := s.decisions.take(token)
	if !ok {
		return domain.DecisionResult{}, ErrDecisionNotFound
	}

	switch d.Kind {
	case domain.DecisionRegression:
		s.logAudit(ctx, "regression_confirm", "upload_attempt", d.AttemptID,
			fmt.Sprintf("previous=%d,current=%d", d.PreviousCount, countInsertable(d.Records)))
		result, err := s.replace(ctx, d.AttemptID, d.Target, d.Records, d.PreviousCount)
		if err != nil {
			return domain.DecisionResult{}, err
		}
		return domain.DecisionResult{Result: result}, nil

	case domain.DecisionClosePeriod:
		closed, err := s.periods.ClosePeriod(ctx, d.Target.Month, d.Target.Year, d.Totals)
		if err != nil {
			return domain.DecisionResult{}, err
		}
		s.logAudit(ctx, "period_close", "period", fmt.Sprintf("%04d-%02d", d.Target.Year, d.Target.Month),
			fmt.Sprintf("records=%d,total=%s", d.Totals.RecordCount, d.Totals.TotalAmount.String()))
		return domain.DecisionResult{PeriodClosed: true, Period: closed}, nil

	default:
		return domain.DecisionResult{}, ErrDecisionNotFound
	}
}

// CancelDecision aborts a pending decision. A cancelled regression
// finalizes its attempt as cancelled; a declined close prompt leaves the
// period open. Either way the token is consumed.
func (s *Service) CancelDecision(ctx context.Context, token string, reason string) (domain.DecisionResult, error) {
	d, ok := s.decisions.take(token)
	if !ok {
		return domain.DecisionResult{}, ErrDecisionNotFound
	}
	reason = strings.TrimSpace(reason)

	switch d.Kind {
	case domain.DecisionRegression:
		if reason == "" {
			reason = "cancelled by operator"
		}
		if _, err := s.repo.FinalizeUploadAttempt(ctx, d.AttemptID, domain.AttemptStateCancelled, nil, reason, time.Now().UTC()); err != nil {
			log.Printf("[service] WARN: cancel attempt %s: %v", d.AttemptID, err)
		}
		s.logAudit(ctx, "regression_cancel", "upload_attempt", d.AttemptID, reason)
		return domain.DecisionResult{Cancelled: true}, nil

	case domain.DecisionClosePeriod:
		s.logAudit(ctx, "period_close_declined", "period",
			fmt.Sprintf("%04d-%02d", d.Target.Year, d.Target.Month), reason)
		return domain.DecisionResult{Cancelled: true}, nil

	default:
		return domain.DecisionResult{}, ErrDecisionNotFound
	}
}

// replace is the only path that mutates the Ledger. It runs under the
// per-period advisory lock and finalizes the attempt exactly once:
// completed on success, error on failure. Once here there is no cancel.
func (s *Service) replace(ctx context.Context, attemptID string, target domain.TargetPeriod, records []domain.SalesRecord, previousCount int) (*domain.UploadResult, error) {
	lock := s.periodLock(target.Month, target.Year)
	lock.Lock()
	defer lock.Unlock()

	// The period may have closed between the upstream check and this
	// point, for example while a regression confirmation sat pending.
	// Re-check under the lock; historical backfill stays exempt.
	if !target.Historical {
		closed, err := s.periods.IsPeriodClosed(ctx, target.Month, target.Year)
		if err != nil {
			s.finalizeError(ctx, attemptID, err)
			return nil, fmt.Errorf("check period state: %w", err)
		}
		if closed {
			err := fmt.Errorf("%w: %04d-%02d", store.ErrPeriodClosed, target.Year, target.Month)
			s.finalizeError(ctx, attemptID, err)
			return nil, err
		}
	}

	if _, err := s.periods.GetOrCreatePeriod(ctx, target.Month, target.Year); err != nil {
		s.finalizeError(ctx, attemptID, err)
		return nil, fmt.Errorf("ensure period: %w", err)
	}

	valid, invalidRows := partitionValid(records, target)

	res, err := s.repo.ReplacePeriodRecords(ctx, target.Month, target.Year, valid)
	if err != nil {
		s.finalizeError(ctx, attemptID, err)
		return nil, fmt.Errorf("replace period records: %w", err)
	}
	s.periods.Invalidate(ctx, target.Month, target.Year)

	processed := res.Inserted
	if _, err := s.repo.FinalizeUploadAttempt(ctx, attemptID, domain.AttemptStateCompleted, &processed, "", time.Now().UTC()); err != nil {
		log.Printf("[service] WARN: complete attempt %s: %v", attemptID, err)
	}

	result := &domain.UploadResult{
		AttemptID:     attemptID,
		Month:         target.Month,
		Year:          target.Year,
		Inserted:      res.Inserted,
		Deleted:       res.Deleted,
		PreviousCount: previousCount,
		TotalInStore:  res.Inserted,
		InvalidRows:   invalidRows,
	}
	log.Printf("[service] replaced period %04d-%02d inserted=%d deleted=%d invalid=%d",
		target.Year, target.Month, res.Inserted, res.Deleted, invalidRows)

	if target.Historical {
		actor, _ := ActorFromContext(ctx)
		s.logAudit(ctx, "historical_upload", "period",
			fmt.Sprintf("%04d-%02d", target.Year, target.Month),
			fmt.Sprintf("actor=%s,inserted=%d", actor.Username, res.Inserted))
		return result, nil
	}

	// On the configured closing day a successful upload offers to close
	// the period. Declining leaves it open; the decision is a separate
	// confirm round-trip, never implicit.
	if s.periods.IsClosingDay() {
		totals := domain.PeriodTotals{RecordCount: res.Inserted, TotalAmount: sumAmounts(valid)}
		pending := s.decisions.put(pendingDecision{
			Kind:   domain.DecisionClosePeriod,
			Target: target,
			Totals: totals,
		}, domain.PendingDecision{
			Kind:    domain.DecisionClosePeriod,
			Month:   target.Month,
			Year:    target.Year,
			Message: fmt.Sprintf("today is the closing day: close period %04d-%02d?", target.Year, target.Month),
		})
		result.ClosePrompt = &pending
	}
	return result, nil
}

func (s *Service) finalizeError(ctx context.Context, attemptID string, cause error) {
	if _, err := s.repo.FinalizeUploadAttempt(ctx, attemptID, domain.AttemptStateError, nil, cause.Error(), time.Now().UTC()); err != nil {
		log.Printf("[service] WARN: fail attempt %s: %v", attemptID, err)
	}
}

// resolveTarget computes the target period: the current month, or the
// explicitly selected historical one. Historical mode is privileged and
// requires an admin actor; the manager-PIN check lives in the HTTP layer.
func (s *Service) resolveTarget(ctx context.Context, historical *domain.PeriodSelector) (domain.TargetPeriod, error) {
	if historical == nil {
		return s.periods.CurrentTargetPeriod(), nil
	}

	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.TargetPeriod{}, ErrHistoricalForbidden
	}
	if historical.Month < 1 || historical.Month > 12 || historical.Year < 2000 || historical.Year > time.Now().UTC().Year()+1 {
		return domain.TargetPeriod{}, fmt.Errorf("%w: period %d-%d", store.ErrInvalidUpload, historical.Year, historical.Month)
	}
	return domain.TargetPeriod{Month: historical.Month, Year: historical.Year, Historical: true}, nil
}

// checkBatch computes the date-range conformance inputs: total rows and
// rows whose mapped date falls inside the target month. Invalid rows
// count toward total, never toward inMonth.
func checkBatch(records []domain.SalesRecord, target domain.TargetPeriod) (total int, inMonth int) {
	total = len(records)
	for _, rec := range records {
		if rec.Invalid {
			continue
		}
		if int(rec.TransactionDate.Month()) == target.Month && rec.TransactionDate.Year() == target.Year {
			inMonth++
		}
	}
	return total, inMonth
}

// countInsertable counts the rows that would survive partitioning, the
// ones that actually reach the Ledger on replace.
func countInsertable(records []domain.SalesRecord) int {
	n := 0
	for _, rec := range records {
		if !rec.Invalid {
			n++
		}
	}
	return n
}

// countPeriodRecords pages through the Ledger to count the records
// currently stored for a period. Store-side result caps are real, so a
// single unbounded read is never assumed.
func (s *Service) countPeriodRecords(ctx context.Context, month int, year int) (int, error) {
	count := 0
	for offset := 0; ; offset += recordPageSize {
		page, err := s.repo.ListPeriodRecords(ctx, month, year, offset, recordPageSize)
		if err != nil {
			return 0, err
		}
		count += len(page)
		if len(page) < recordPageSize {
			return count, nil
		}
	}
}

// partitionValid drops Invalid-flagged rows, counts them, and stamps the
// survivors with the target period. Every accepted record belongs to the
// target (month, year) regardless of its own date's month: dates inform
// the conformance check, not partitioning.
func partitionValid(records []domain.SalesRecord, target domain.TargetPeriod) ([]domain.SalesRecord, int) {
	valid := make([]domain.SalesRecord, 0, len(records))
	invalid := 0
	for _, rec := range records {
		if rec.Invalid {
			invalid++
			log.Printf("[service] invalid row skipped: %s", rec.InvalidReason)
			continue
		}
		rec.Month = target.Month
		rec.Year = target.Year
		valid = append(valid, rec)
	}
	return valid, invalid
}

func sumAmounts(records []domain.SalesRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.NetAmount)
	}
	return total
}

func (s *Service) ListUploadAttempts(ctx context.Context, limit int) (domain.UploadAttemptListResponse, error) {
	// Sweep first so an expired decision's attempt shows up cancelled
	// rather than stuck in processing.
	s.decisions.sweep()
	if limit < 1 {
		limit = 50
	}
	attempts, err := s.repo.ListUploadAttempts(ctx, limit)
	if err != nil {
		return domain.UploadAttemptListResponse{}, err
	}
	return domain.UploadAttemptListResponse{Attempts: attempts}, nil
}

func (s *Service) ListPeriods(ctx context.Context) ([]domain.Period, error) {
	return s.repo.ListPeriods(ctx)
}

// PeriodStatus reports a period's lifecycle state. A period that was
// never written is open with zero records; the current period reports
// closing_day on the policy's marker day.
func (s *Service) PeriodStatus(ctx context.Context, month int, year int) (domain.PeriodStatusResponse, error) {
	if month < 1 || month > 12 || year < 2000 {
		return domain.PeriodStatusResponse{}, store.ErrInvalidUpload
	}

	p, err := s.repo.GetPeriod(ctx, month, year)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.PeriodStatusResponse{}, err
		}
		p = &domain.Period{Month: month, Year: year, State: domain.PeriodStateOpen, TotalAmount: decimal.Zero}
	}

	current := s.periods.CurrentTargetPeriod()
	isClosingDay := current.IsClosingDay && current.Month == month && current.Year == year
	if isClosingDay && !p.Closed() {
		p.State = domain.PeriodStateClosingDay
	}
	return domain.PeriodStatusResponse{Period: *p, IsClosingDay: isClosingDay}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: audit log %s %s: %v", action, entityID, err)
	}
}
