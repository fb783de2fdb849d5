package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ventasync/backend/internal/domain"
)

func TestReplacePeriodRecordsIsAtomic(t *testing.T) {
	databaseURL := os.Getenv("VENTASYNC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set VENTASYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	// An unlikely far-future period keeps the test isolated from real data.
	month, year := 12, 2097

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_records WHERE month = $1 AND year = $2`, month, year)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM periods WHERE month = $1 AND year = $2`, month, year)
	})

	if _, err := s.EnsurePeriod(ctx, month, year); err != nil {
		t.Fatalf("ensure period: %v", err)
	}

	batch := func(n int) []domain.SalesRecord {
		records := make([]domain.SalesRecord, 0, n)
		for i := 0; i < n; i++ {
			records = append(records, domain.SalesRecord{
				TransactionDate: time.Date(year, time.Month(month), i%28+1, 0, 0, 0, 0, time.UTC),
				AdvisorCode:     "A01",
				BranchCode:      "BOG",
				SaleType:        domain.SaleTypeCash,
				NetAmount:       decimal.NewFromInt(150000),
				ClientID:        "900123",
				Month:           month,
				Year:            year,
			})
		}
		return records
	}

	res, err := s.ReplacePeriodRecords(ctx, month, year, batch(5))
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if res.Inserted != 5 || res.Deleted != 0 {
		t.Fatalf("unexpected first replace result: %+v", res)
	}

	res, err = s.ReplacePeriodRecords(ctx, month, year, batch(3))
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if res.Inserted != 3 || res.Deleted != 5 {
		t.Fatalf("expected wholesale swap 3/5, got %+v", res)
	}

	records, err := s.ListPeriodRecords(ctx, month, year, 0, 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(records))
	}

	p, err := s.GetPeriod(ctx, month, year)
	if err != nil {
		t.Fatalf("get period: %v", err)
	}
	if p.RecordCount != 3 {
		t.Fatalf("expected record_count synced to 3, got %d", p.RecordCount)
	}
}
