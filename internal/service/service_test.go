package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ventasync/backend/internal/cache"
	"ventasync/backend/internal/domain"
	"ventasync/backend/internal/extract"
	"ventasync/backend/internal/period"
	"ventasync/backend/internal/store"
	"ventasync/backend/internal/store/memory"
)

func newTestService(day int, decisionTTL time.Duration) (*Service, *memory.Store) {
	repo := memory.New()
	policy := period.SchedulingPolicy{
		ClosingDay: 25,
		Now: func() time.Time {
			return time.Date(2026, time.March, day, 9, 0, 0, 0, time.UTC)
		},
	}
	periods := period.New(repo, cache.NoopPeriodCache{}, policy)
	return New(repo, periods, decisionTTL), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func operatorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "operator", Role: "operator"})
}

// buildExtract produces a semicolon-delimited file with one row per date.
func buildExtract(dates ...string) string {
	var b strings.Builder
	b.WriteString("FECHA;IDENTIFICA;VTAS_ANT_I;TIPO_VENTA;SUCURSAL\n")
	for i, date := range dates {
		fmt.Fprintf(&b, "%s;9001%02d;150000;CONTADO;BOG\n", date, i)
	}
	return b.String()
}

func marchDates(n int) []string {
	dates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, fmt.Sprintf("2026-03-%02d", i%28+1))
	}
	return dates
}

func countRecords(t *testing.T, repo *memory.Store, month, year int) int {
	t.Helper()
	count := 0
	for offset := 0; ; offset += 100 {
		page, err := repo.ListPeriodRecords(context.Background(), month, year, offset, 100)
		if err != nil {
			t.Fatalf("list records: %v", err)
		}
		count += len(page)
		if len(page) < 100 {
			return count
		}
	}
}

func TestUploadHappyPath(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)

	outcome, err := svc.Upload(operatorCtx(), domain.UploadRequest{
		Filename: "ventas_marzo.csv",
		Content:  buildExtract(marchDates(120)...),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if outcome.Pending != nil {
		t.Fatalf("unexpected pending decision: %+v", outcome.Pending)
	}
	res := outcome.Result
	if res.Inserted != 120 || res.Deleted != 0 || res.PreviousCount != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Month != 3 || res.Year != 2026 {
		t.Fatalf("expected target 2026-03, got %04d-%02d", res.Year, res.Month)
	}
	if res.ClosePrompt != nil {
		t.Fatalf("close prompt outside the closing day")
	}
	if got := countRecords(t, repo, 3, 2026); got != 120 {
		t.Fatalf("expected 120 stored records, got %d", got)
	}

	attempt, err := repo.GetUploadAttempt(context.Background(), res.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.State != domain.AttemptStateCompleted {
		t.Fatalf("expected completed attempt, got %s", attempt.State)
	}
	if attempt.RecordsProcessed == nil || *attempt.RecordsProcessed != 120 {
		t.Fatalf("expected 120 records processed, got %v", attempt.RecordsProcessed)
	}
	if attempt.ActorUsername != "operator" {
		t.Fatalf("expected actor recorded, got %q", attempt.ActorUsername)
	}
}

func TestUploadReplaceIsIdempotent(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	content := buildExtract(marchDates(10)...)

	if _, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: content}); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	outcome, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: content})
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}
	if outcome.Result.Inserted != 10 || outcome.Result.Deleted != 10 {
		t.Fatalf("expected full replace, got %+v", outcome.Result)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("replace must not accumulate, got %d records", got)
	}
}

func TestUploadOutOfRangeRejectsBeforeAnyAttempt(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)

	// 8 of 10 rows dated in February while the target is March.
	dates := []string{
		"2026-02-01", "2026-02-02", "2026-02-03", "2026-02-04",
		"2026-02-05", "2026-02-06", "2026-02-07", "2026-02-08",
		"2026-03-01", "2026-03-02",
	}
	_, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: buildExtract(dates...)})
	if !errors.Is(err, ErrOutOfRangeBatch) {
		t.Fatalf("expected ErrOutOfRangeBatch, got %v", err)
	}

	if got := countRecords(t, repo, 3, 2026); got != 0 {
		t.Fatalf("rejected batch must not touch storage, got %d records", got)
	}
	attempts, err := repo.ListUploadAttempts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("rejected batch must not create an attempt, got %d", len(attempts))
	}
}

func TestUploadExactHalfInMonthPasses(t *testing.T) {
	svc, _ := newTestService(10, time.Minute)

	// 5 of 10 in the target month: at least half, so accepted.
	dates := append(marchDates(5),
		"2026-02-20", "2026-02-21", "2026-02-22", "2026-02-23", "2026-02-24")
	outcome, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: buildExtract(dates...)})
	if err != nil {
		t.Fatalf("half-in-month batch should pass: %v", err)
	}
	if outcome.Result.Inserted != 10 {
		t.Fatalf("expected all 10 rows stored, got %d", outcome.Result.Inserted)
	}
}

func TestUploadStructuralFailures(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)

	if _, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: ""}); !errors.Is(err, extract.ErrMalformedFile) {
		t.Fatalf("expected ErrMalformedFile for empty content, got %v", err)
	}
	if _, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: "FECHA;VALOR\n"}); !errors.Is(err, extract.ErrMalformedFile) {
		t.Fatalf("expected ErrMalformedFile for header-only file, got %v", err)
	}
	noDate := "IDENTIFICA;VALOR\n900123;150000\n"
	if _, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: noDate}); !errors.Is(err, extract.ErrMissingDateColumn) {
		t.Fatalf("expected ErrMissingDateColumn, got %v", err)
	}

	attempts, _ := repo.ListUploadAttempts(context.Background(), 10)
	if len(attempts) != 0 {
		t.Fatalf("structural failures must not create attempts, got %d", len(attempts))
	}
}

func TestUploadInvalidRowsCountedNotInserted(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)

	dates := append(marchDates(8), "sin fecha", "also-bad")
	outcome, err := svc.Upload(operatorCtx(), domain.UploadRequest{Content: buildExtract(dates...)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if outcome.Result.Inserted != 8 {
		t.Fatalf("expected 8 inserted, got %d", outcome.Result.Inserted)
	}
	if outcome.Result.InvalidRows != 2 {
		t.Fatalf("expected 2 invalid rows, got %d", outcome.Result.InvalidRows)
	}
	if got := countRecords(t, repo, 3, 2026); got != 8 {
		t.Fatalf("invalid rows must not be stored, got %d", got)
	}
}

func TestUploadClosedPeriodRejected(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := repo.EnsurePeriod(ctx, 3, 2026); err != nil {
		t.Fatalf("ensure period: %v", err)
	}
	if _, err := repo.ClosePeriod(ctx, 3, 2026, domain.PeriodTotals{}, time.Now().UTC()); err != nil {
		t.Fatalf("close period: %v", err)
	}

	_, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(5)...)})
	if !errors.Is(err, store.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
	attempts, _ := repo.ListUploadAttempts(ctx, 10)
	if len(attempts) != 0 {
		t.Fatalf("closed-period rejection must not create an attempt")
	}
}

func TestRegressionConfirmProceeds(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}

	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(6)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}
	if outcome.Result != nil {
		t.Fatalf("smaller batch must not replace without confirmation")
	}
	pending := outcome.Pending
	if pending == nil || pending.Kind != domain.DecisionRegression {
		t.Fatalf("expected regression decision, got %+v", pending)
	}
	if pending.Previous != 10 || pending.Current != 6 {
		t.Fatalf("expected counts 10/6, got %d/%d", pending.Previous, pending.Current)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("pending regression must not touch storage, got %d", got)
	}
	attempt, err := repo.GetUploadAttempt(ctx, pending.AttemptID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.State != domain.AttemptStateProcessing {
		t.Fatalf("attempt should wait in processing, got %s", attempt.State)
	}

	result, err := svc.ConfirmDecision(ctx, pending.Token)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if result.Result.Inserted != 6 || result.Result.Deleted != 10 {
		t.Fatalf("expected replace 6/10, got %+v", result.Result)
	}
	if got := countRecords(t, repo, 3, 2026); got != 6 {
		t.Fatalf("expected 6 records after confirm, got %d", got)
	}

	attempt, _ = repo.GetUploadAttempt(ctx, pending.AttemptID)
	if attempt.State != domain.AttemptStateCompleted {
		t.Fatalf("expected completed attempt, got %s", attempt.State)
	}

	logs, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "regression_confirm" && entry.EntityID == pending.AttemptID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected regression_confirm audit entry, got %+v", logs)
	}
}

func TestRegressionCancelKeepsData(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(3)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}

	result, err := svc.CancelDecision(ctx, outcome.Pending.Token, "wrong file")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !result.Cancelled {
		t.Fatalf("expected cancelled result")
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("cancel must keep existing records, got %d", got)
	}

	attempt, _ := repo.GetUploadAttempt(ctx, outcome.Pending.AttemptID)
	if attempt.State != domain.AttemptStateCancelled {
		t.Fatalf("expected cancelled attempt, got %s", attempt.State)
	}
	if attempt.ErrorMessage != "wrong file" {
		t.Fatalf("expected cancel reason recorded, got %q", attempt.ErrorMessage)
	}
}

func TestDecisionTokenSingleUse(t *testing.T) {
	svc, _ := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(4)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}

	if _, err := svc.ConfirmDecision(ctx, outcome.Pending.Token); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if _, err := svc.ConfirmDecision(ctx, outcome.Pending.Token); !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected ErrDecisionNotFound on reuse, got %v", err)
	}
	if _, err := svc.CancelDecision(ctx, "no-such-token", ""); !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected ErrDecisionNotFound for unknown token, got %v", err)
	}
}

func TestExpiredRegressionFinalizesAttempt(t *testing.T) {
	svc, repo := newTestService(10, 20*time.Millisecond)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(2)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := svc.ConfirmDecision(ctx, outcome.Pending.Token); !errors.Is(err, ErrDecisionNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	attempt, _ := repo.GetUploadAttempt(ctx, outcome.Pending.AttemptID)
	if attempt.State != domain.AttemptStateCancelled {
		t.Fatalf("expired decision must cancel its attempt, got %s", attempt.State)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("expiry must keep existing records, got %d", got)
	}
}

func TestRegressionConfirmAfterPeriodCloseRejected(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(4)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}

	// The period closes while the confirmation is still pending.
	if _, err := repo.ClosePeriod(ctx, 3, 2026, domain.PeriodTotals{RecordCount: 10}, time.Now().UTC()); err != nil {
		t.Fatalf("close period: %v", err)
	}

	if _, err := svc.ConfirmDecision(ctx, outcome.Pending.Token); !errors.Is(err, store.ErrPeriodClosed) {
		t.Fatalf("confirm into a closed period must fail, got %v", err)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("closed period must keep its records, got %d", got)
	}
	attempt, _ := repo.GetUploadAttempt(ctx, outcome.Pending.AttemptID)
	if !attempt.Terminal() || attempt.State != domain.AttemptStateError {
		t.Fatalf("expected errored attempt, got %s", attempt.State)
	}
}

func TestRegressionGateCountsInsertableRows(t *testing.T) {
	svc, repo := newTestService(10, time.Minute)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}

	// 10 rows total but only 6 parse: the 6 insertable rows shrink the
	// stored 10, so the gate must trip even though the raw count matches.
	dates := append(marchDates(6), "sin fecha", "n/a", "??", "mañana")
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(dates...)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if outcome.Result != nil {
		t.Fatalf("padded batch must not replace without confirmation, got %+v", outcome.Result)
	}
	pending := outcome.Pending
	if pending == nil || pending.Kind != domain.DecisionRegression {
		t.Fatalf("expected regression decision, got %+v", pending)
	}
	if pending.Previous != 10 || pending.Current != 6 {
		t.Fatalf("expected counts 10/6, got %d/%d", pending.Previous, pending.Current)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("pending regression must not touch storage, got %d", got)
	}
}

func TestListAttemptsSweepsExpiredDecisions(t *testing.T) {
	svc, repo := newTestService(10, 20*time.Millisecond)
	ctx := operatorCtx()

	if _, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(10)...)}); err != nil {
		t.Fatalf("seed upload failed: %v", err)
	}
	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(2)...)})
	if err != nil {
		t.Fatalf("regression upload failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Listing attempts is enough; the abandoned token is never touched.
	if _, err := svc.ListUploadAttempts(ctx, 10); err != nil {
		t.Fatalf("list attempts failed: %v", err)
	}
	attempt, _ := repo.GetUploadAttempt(ctx, outcome.Pending.AttemptID)
	if attempt.State != domain.AttemptStateCancelled {
		t.Fatalf("abandoned decision must cancel its attempt, got %s", attempt.State)
	}
	if got := countRecords(t, repo, 3, 2026); got != 10 {
		t.Fatalf("expiry must keep existing records, got %d", got)
	}
}

func TestClosingDayPromptAndClose(t *testing.T) {
	svc, repo := newTestService(25, time.Minute)
	ctx := operatorCtx()

	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(12)...)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	res := outcome.Result
	if res == nil || res.ClosePrompt == nil {
		t.Fatalf("expected close prompt on the closing day, got %+v", outcome)
	}
	if res.ClosePrompt.Kind != domain.DecisionClosePeriod {
		t.Fatalf("expected close_period decision, got %s", res.ClosePrompt.Kind)
	}

	// The upload itself already landed; the prompt is only about closing.
	if got := countRecords(t, repo, 3, 2026); got != 12 {
		t.Fatalf("expected 12 records before the close decision, got %d", got)
	}

	decision, err := svc.ConfirmDecision(ctx, res.ClosePrompt.Token)
	if err != nil {
		t.Fatalf("close confirm failed: %v", err)
	}
	if !decision.PeriodClosed || decision.Period == nil || !decision.Period.Closed() {
		t.Fatalf("expected closed period, got %+v", decision)
	}
	if decision.Period.RecordCount != 12 {
		t.Fatalf("expected closing totals captured, got %d", decision.Period.RecordCount)
	}

	_, err = svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(5)...)})
	if !errors.Is(err, store.ErrPeriodClosed) {
		t.Fatalf("closed period must reject further uploads, got %v", err)
	}
}

func TestClosingDayPromptDeclined(t *testing.T) {
	svc, _ := newTestService(25, time.Minute)
	ctx := operatorCtx()

	outcome, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(7)...)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	decision, err := svc.CancelDecision(ctx, outcome.Result.ClosePrompt.Token, "not yet")
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if !decision.Cancelled {
		t.Fatalf("expected cancelled decision")
	}

	// Declining leaves the period open for further uploads.
	again, err := svc.Upload(ctx, domain.UploadRequest{Content: buildExtract(marchDates(9)...)})
	if err != nil {
		t.Fatalf("upload after decline failed: %v", err)
	}
	if again.Result == nil || again.Result.Inserted != 9 {
		t.Fatalf("expected replace after decline, got %+v", again)
	}
}

func TestHistoricalUploadRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(10, time.Minute)

	req := domain.UploadRequest{
		Content:    buildExtract("2025-11-05", "2025-11-06"),
		Historical: &domain.PeriodSelector{Month: 11, Year: 2025},
	}
	if _, err := svc.Upload(operatorCtx(), req); !errors.Is(err, ErrHistoricalForbidden) {
		t.Fatalf("expected ErrHistoricalForbidden for operator, got %v", err)
	}
	if _, err := svc.Upload(context.Background(), req); !errors.Is(err, ErrHistoricalForbidden) {
		t.Fatalf("expected ErrHistoricalForbidden without actor, got %v", err)
	}
}

func TestHistoricalUploadBypassesClosedCheck(t *testing.T) {
	svc, repo := newTestService(25, time.Minute)
	ctx := adminCtx()

	if _, err := repo.EnsurePeriod(ctx, 11, 2025); err != nil {
		t.Fatalf("ensure period: %v", err)
	}
	if _, err := repo.ClosePeriod(ctx, 11, 2025, domain.PeriodTotals{}, time.Now().UTC()); err != nil {
		t.Fatalf("close period: %v", err)
	}

	outcome, err := svc.Upload(ctx, domain.UploadRequest{
		Filename:   "ventas_noviembre.csv",
		Content:    buildExtract("2025-11-05", "2025-11-06", "2025-11-07"),
		Historical: &domain.PeriodSelector{Month: 11, Year: 2025},
	})
	if err != nil {
		t.Fatalf("historical upload failed: %v", err)
	}
	if outcome.Result.Inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", outcome.Result.Inserted)
	}
	// Even on the closing day, a backfill never prompts to close.
	if outcome.Result.ClosePrompt != nil {
		t.Fatalf("historical upload must not offer the close prompt")
	}
	if got := countRecords(t, repo, 11, 2025); got != 3 {
		t.Fatalf("expected 3 records, got %d", got)
	}

	logs, _ := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	found := false
	for _, entry := range logs {
		if entry.Action == "historical_upload" && entry.EntityID == "2025-11" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected historical_upload audit entry, got %+v", logs)
	}
}

func TestHistoricalUploadValidatesPeriod(t *testing.T) {
	svc, _ := newTestService(10, time.Minute)
	ctx := adminCtx()

	for _, sel := range []domain.PeriodSelector{
		{Month: 0, Year: 2025},
		{Month: 13, Year: 2025},
		{Month: 6, Year: 1999},
		{Month: 6, Year: time.Now().UTC().Year() + 5},
	} {
		_, err := svc.Upload(ctx, domain.UploadRequest{
			Content:    buildExtract("2025-06-01"),
			Historical: &domain.PeriodSelector{Month: sel.Month, Year: sel.Year},
		})
		if !errors.Is(err, store.ErrInvalidUpload) {
			t.Fatalf("selector %+v: expected ErrInvalidUpload, got %v", sel, err)
		}
	}
}

func TestPeriodStatus(t *testing.T) {
	svc, _ := newTestService(25, time.Minute)
	ctx := operatorCtx()

	// A period that was never written reports open with zero records.
	status, err := svc.PeriodStatus(ctx, 1, 2026)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Period.State != domain.PeriodStateOpen || status.Period.RecordCount != 0 {
		t.Fatalf("expected empty open period, got %+v", status.Period)
	}
	if status.IsClosingDay {
		t.Fatalf("january is not the current period")
	}

	// The current period reports closing_day on the marker day.
	status, err = svc.PeriodStatus(ctx, 3, 2026)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Period.State != domain.PeriodStateClosingDay || !status.IsClosingDay {
		t.Fatalf("expected closing_day state, got %+v", status)
	}

	if _, err := svc.PeriodStatus(ctx, 14, 2026); !errors.Is(err, store.ErrInvalidUpload) {
		t.Fatalf("expected ErrInvalidUpload for month 14, got %v", err)
	}
}

func TestListUploadAttemptsNewestFirst(t *testing.T) {
	svc, _ := newTestService(10, time.Minute)
	ctx := operatorCtx()

	for i := 0; i < 3; i++ {
		// Grow the batch each time so no regression gate trips.
		if _, err := svc.Upload(ctx, domain.UploadRequest{
			Filename: fmt.Sprintf("batch-%d.csv", i),
			Content:  buildExtract(marchDates(10 + i*5)...),
		}); err != nil {
			t.Fatalf("upload %d failed: %v", i, err)
		}
	}

	resp, err := svc.ListUploadAttempts(ctx, 2)
	if err != nil {
		t.Fatalf("list attempts failed: %v", err)
	}
	if len(resp.Attempts) != 2 {
		t.Fatalf("expected limit applied, got %d", len(resp.Attempts))
	}
	if resp.Attempts[0].Filename != "batch-2.csv" {
		t.Fatalf("expected newest first, got %s", resp.Attempts[0].Filename)
	}
}
