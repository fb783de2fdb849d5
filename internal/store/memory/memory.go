package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"ventasync/backend/internal/domain"
	"ventasync/backend/internal/store"
)

// Store is the in-memory Ledger used for dev mode and tests. All methods
// are safe for concurrent use; ReplacePeriodRecords swaps the period's
// slice under the write lock, so the replace is atomic by construction.
type Store struct {
	mu              sync.RWMutex
	periods         map[string]domain.Period
	recordsByPeriod map[string][]domain.SalesRecord
	attemptsByID    map[string]domain.UploadAttempt
	attemptOrder    []string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func periodKey(month int, year int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func New() *Store {
	return &Store{
		periods:         make(map[string]domain.Period),
		recordsByPeriod: make(map[string][]domain.SalesRecord),
		attemptsByID:    make(map[string]domain.UploadAttempt),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with dev/demo user accounts. Credentials are
// read from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD; hardcoded
// dev defaults are used with a warning when unset.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"operator", operatorPwd, "operator"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetPeriod(_ context.Context, month int, year int) (*domain.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.periods[periodKey(month, year)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) EnsurePeriod(_ context.Context, month int, year int) (*domain.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := periodKey(month, year)
	if p, ok := s.periods[key]; ok {
		copied := p
		return &copied, nil
	}
	p := domain.Period{
		Month:       month,
		Year:        year,
		State:       domain.PeriodStateOpen,
		TotalAmount: decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	s.periods[key] = p
	return &p, nil
}

func (s *Store) ClosePeriod(_ context.Context, month int, year int, totals domain.PeriodTotals, closedAt time.Time) (*domain.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := periodKey(month, year)
	p, ok := s.periods[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.State == domain.PeriodStateClosed {
		return nil, store.ErrAlreadyClosed
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	p.State = domain.PeriodStateClosed
	p.RecordCount = totals.RecordCount
	p.TotalAmount = totals.TotalAmount
	p.ClosedAt = &closedAt
	s.periods[key] = p
	copied := p
	return &copied, nil
}

func (s *Store) ListPeriods(_ context.Context) ([]domain.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	periods := make([]domain.Period, 0, len(s.periods))
	for _, p := range s.periods {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Year != periods[j].Year {
			return periods[i].Year > periods[j].Year
		}
		return periods[i].Month > periods[j].Month
	})
	return periods, nil
}

func (s *Store) ListPeriodRecords(_ context.Context, month int, year int, offset int, limit int) ([]domain.SalesRecord, error) {
	if offset < 0 || limit < 1 {
		return nil, store.ErrInvalidUpload
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.recordsByPeriod[periodKey(month, year)]
	if offset >= len(records) {
		return []domain.SalesRecord{}, nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	page := make([]domain.SalesRecord, end-offset)
	copy(page, records[offset:end])
	return page, nil
}

func (s *Store) ReplacePeriodRecords(_ context.Context, month int, year int, records []domain.SalesRecord) (domain.ReplaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := periodKey(month, year)
	deleted := len(s.recordsByPeriod[key])
	replacement := make([]domain.SalesRecord, len(records))
	copy(replacement, records)
	s.recordsByPeriod[key] = replacement

	if p, ok := s.periods[key]; ok {
		p.RecordCount = len(replacement)
		s.periods[key] = p
	}
	return domain.ReplaceResult{Inserted: len(replacement), Deleted: deleted}, nil
}

func (s *Store) CreateUploadAttempt(_ context.Context, attempt domain.UploadAttempt) (*domain.UploadAttempt, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptsByID[attempt.ID] = attempt
	s.attemptOrder = append(s.attemptOrder, attempt.ID)
	copied := attempt
	return &copied, nil
}

func (s *Store) FinalizeUploadAttempt(_ context.Context, id string, state string, recordsProcessed *int, errorMessage string, at time.Time) (*domain.UploadAttempt, error) {
	switch state {
	case domain.AttemptStateCompleted, domain.AttemptStateError, domain.AttemptStateCancelled:
	default:
		return nil, store.ErrInvalidUpload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attemptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if attempt.Terminal() {
		return nil, store.ErrAttemptFinalized
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	attempt.State = state
	attempt.RecordsProcessed = recordsProcessed
	attempt.ErrorMessage = errorMessage
	attempt.FinalizedAt = &at
	s.attemptsByID[id] = attempt
	copied := attempt
	return &copied, nil
}

func (s *Store) GetUploadAttempt(_ context.Context, id string) (*domain.UploadAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attemptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := attempt
	return &copied, nil
}

func (s *Store) ListUploadAttempts(_ context.Context, limit int) ([]domain.UploadAttempt, error) {
	if limit < 1 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := make([]domain.UploadAttempt, 0, limit)
	for i := len(s.attemptOrder) - 1; i >= 0 && len(attempts) < limit; i-- {
		attempts = append(attempts, s.attemptsByID[s.attemptOrder[i]])
	}
	return attempts, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidUpload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("username already exists")
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
