package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ventasync/backend/internal/domain"
	"ventasync/backend/internal/store"
)

// Store is the postgres-backed Ledger. Schema is managed externally
// (migrations live with the deployment); the tables used here are
// periods, sales_records, upload_attempts, audit_logs and users.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetPeriod(ctx context.Context, month int, year int) (*domain.Period, error) {
	var p domain.Period
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT month, year, state, record_count, total_amount, closed_at, created_at
		FROM periods
		WHERE month = $1 AND year = $2
	`, month, year).Scan(&p.Month, &p.Year, &p.State, &p.RecordCount, &p.TotalAmount, &closedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		p.ClosedAt = &at
	}
	return &p, nil
}

func (s *Store) EnsurePeriod(ctx context.Context, month int, year int) (*domain.Period, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (month, year, state, record_count, total_amount, created_at)
		VALUES ($1, $2, 'open', 0, 0, now())
		ON CONFLICT (month, year) DO NOTHING
	`, month, year)
	if err != nil {
		return nil, err
	}
	return s.GetPeriod(ctx, month, year)
}

func (s *Store) ClosePeriod(ctx context.Context, month int, year int, totals domain.PeriodTotals, closedAt time.Time) (*domain.Period, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var p domain.Period
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE periods
		SET state = 'closed', record_count = $3, total_amount = $4, closed_at = $5
		WHERE month = $1 AND year = $2 AND state <> 'closed'
		RETURNING month, year, state, record_count, total_amount, closed_at, created_at
	`, month, year, totals.RecordCount, totals.TotalAmount, closedAt).Scan(
		&p.Month, &p.Year, &p.State, &p.RecordCount, &p.TotalAmount, &closedAtNull, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetPeriod(ctx, month, year); getErr == nil {
				return nil, store.ErrAlreadyClosed
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		p.ClosedAt = &at
	}
	return &p, nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]domain.Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT month, year, state, record_count, total_amount, closed_at, created_at
		FROM periods
		ORDER BY year DESC, month DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periods := make([]domain.Period, 0, 24)
	for rows.Next() {
		var p domain.Period
		var closedAt sql.NullTime
		if err := rows.Scan(&p.Month, &p.Year, &p.State, &p.RecordCount, &p.TotalAmount, &closedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		if closedAt.Valid {
			at := closedAt.Time.UTC()
			p.ClosedAt = &at
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return periods, nil
}

func (s *Store) ListPeriodRecords(ctx context.Context, month int, year int, offset int, limit int) ([]domain.SalesRecord, error) {
	if offset < 0 || limit < 1 {
		return nil, store.ErrInvalidUpload
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_date, advisor_code, branch_code, sale_type, payment_method,
			net_amount, client_id, product, document_type, month, year
		FROM sales_records
		WHERE month = $1 AND year = $2
		ORDER BY id
		OFFSET $3 LIMIT $4
	`, month, year, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SalesRecord, 0, limit)
	for rows.Next() {
		var rec domain.SalesRecord
		if err := rows.Scan(&rec.TransactionDate, &rec.AdvisorCode, &rec.BranchCode, &rec.SaleType,
			&rec.PaymentMethod, &rec.NetAmount, &rec.ClientID, &rec.Product, &rec.DocumentType,
			&rec.Month, &rec.Year); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReplacePeriodRecords deletes every record for (month, year) and inserts
// the new batch in one serializable transaction. On any failure the
// transaction rolls back and the prior records are untouched.
func (s *Store) ReplacePeriodRecords(ctx context.Context, month int, year int, records []domain.SalesRecord) (domain.ReplaceResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.ReplaceResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM sales_records WHERE month = $1 AND year = $2
	`, month, year)
	if err != nil {
		return domain.ReplaceResult{}, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return domain.ReplaceResult{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sales_records (
			transaction_date, advisor_code, branch_code, sale_type, payment_method,
			net_amount, client_id, product, document_type, month, year
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`)
	if err != nil {
		return domain.ReplaceResult{}, err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.TransactionDate, rec.AdvisorCode, rec.BranchCode,
			rec.SaleType, rec.PaymentMethod, rec.NetAmount, rec.ClientID, rec.Product,
			rec.DocumentType, month, year); err != nil {
			return domain.ReplaceResult{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE periods SET record_count = $3 WHERE month = $1 AND year = $2
	`, month, year, len(records)); err != nil {
		return domain.ReplaceResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ReplaceResult{}, err
	}
	return domain.ReplaceResult{Inserted: len(records), Deleted: int(deleted)}, nil
}

func (s *Store) CreateUploadAttempt(ctx context.Context, attempt domain.UploadAttempt) (*domain.UploadAttempt, error) {
	if strings.TrimSpace(attempt.Filename) == "" {
		return nil, store.ErrInvalidUpload
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	attempt.State = domain.AttemptStateProcessing

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_attempts (id, filename, month, year, state, actor_username, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, attempt.ID, attempt.Filename, attempt.Month, attempt.Year, attempt.State,
		attempt.ActorUsername, attempt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidUpload
		}
		return nil, err
	}
	saved := attempt
	return &saved, nil
}

// FinalizeUploadAttempt transitions an attempt to its terminal state.
// The WHERE state = 'processing' guard makes the transition happen at
// most once; a second call reports ErrAttemptFinalized.
func (s *Store) FinalizeUploadAttempt(ctx context.Context, id string, state string, recordsProcessed *int, errorMessage string, at time.Time) (*domain.UploadAttempt, error) {
	switch state {
	case domain.AttemptStateCompleted, domain.AttemptStateError, domain.AttemptStateCancelled:
	default:
		return nil, store.ErrInvalidUpload
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var processed sql.NullInt64
	if recordsProcessed != nil {
		processed = sql.NullInt64{Int64: int64(*recordsProcessed), Valid: true}
	}

	var attempt domain.UploadAttempt
	var processedNull sql.NullInt64
	var finalizedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE upload_attempts
		SET state = $2, records_processed = $3, error_message = $4, finalized_at = $5
		WHERE id = $1 AND state = 'processing'
		RETURNING id, filename, month, year, state, records_processed, error_message,
			actor_username, created_at, finalized_at
	`, id, state, processed, errorMessage, at).Scan(
		&attempt.ID, &attempt.Filename, &attempt.Month, &attempt.Year, &attempt.State,
		&processedNull, &attempt.ErrorMessage, &attempt.ActorUsername, &attempt.CreatedAt, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetUploadAttempt(ctx, id); getErr == nil {
				return nil, store.ErrAttemptFinalized
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if processedNull.Valid {
		n := int(processedNull.Int64)
		attempt.RecordsProcessed = &n
	}
	attempt.CreatedAt = attempt.CreatedAt.UTC()
	if finalizedAt.Valid {
		t := finalizedAt.Time.UTC()
		attempt.FinalizedAt = &t
	}
	return &attempt, nil
}

func (s *Store) GetUploadAttempt(ctx context.Context, id string) (*domain.UploadAttempt, error) {
	var attempt domain.UploadAttempt
	var processed sql.NullInt64
	var finalizedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, month, year, state, records_processed, error_message,
			actor_username, created_at, finalized_at
		FROM upload_attempts
		WHERE id = $1
	`, id).Scan(&attempt.ID, &attempt.Filename, &attempt.Month, &attempt.Year, &attempt.State,
		&processed, &attempt.ErrorMessage, &attempt.ActorUsername, &attempt.CreatedAt, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if processed.Valid {
		n := int(processed.Int64)
		attempt.RecordsProcessed = &n
	}
	attempt.CreatedAt = attempt.CreatedAt.UTC()
	if finalizedAt.Valid {
		t := finalizedAt.Time.UTC()
		attempt.FinalizedAt = &t
	}
	return &attempt, nil
}

func (s *Store) ListUploadAttempts(ctx context.Context, limit int) ([]domain.UploadAttempt, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, month, year, state, records_processed, error_message,
			actor_username, created_at, finalized_at
		FROM upload_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.UploadAttempt, 0, limit)
	for rows.Next() {
		var attempt domain.UploadAttempt
		var processed sql.NullInt64
		var finalizedAt sql.NullTime
		if err := rows.Scan(&attempt.ID, &attempt.Filename, &attempt.Month, &attempt.Year,
			&attempt.State, &processed, &attempt.ErrorMessage, &attempt.ActorUsername,
			&attempt.CreatedAt, &finalizedAt); err != nil {
			return nil, err
		}
		if processed.Valid {
			n := int(processed.Int64)
			attempt.RecordsProcessed = &n
		}
		attempt.CreatedAt = attempt.CreatedAt.UTC()
		if finalizedAt.Valid {
			t := finalizedAt.Time.UTC()
			attempt.FinalizedAt = &t
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidUpload
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidUpload
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
