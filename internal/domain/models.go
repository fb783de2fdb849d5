package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesRecord is one commercial transaction line from a monthly extract.
// Month and Year are assigned from the target period at ingestion time,
// not from the record's own transaction date.
type SalesRecord struct {
	TransactionDate time.Time       `json:"transaction_date"`
	AdvisorCode     string          `json:"advisor_code"`
	BranchCode      string          `json:"branch_code"`
	SaleType        string          `json:"sale_type"`
	PaymentMethod   string          `json:"payment_method"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	ClientID        string          `json:"client_id"`
	Product         string          `json:"product"`
	DocumentType    string          `json:"document_type"`
	Month           int             `json:"month"`
	Year            int             `json:"year"`

	// Invalid marks rows that failed a required coercion (strict date
	// policy). They are counted and excluded from insertion, never
	// inserted with a guessed date.
	Invalid       bool   `json:"-"`
	InvalidReason string `json:"-"`
}

const (
	SaleTypeCash       = "CASH"
	SaleTypeCashCredit = "CASH_CREDIT"
	SaleTypeCredit     = "CREDIT"
	SaleTypeAlliance   = "ALLIANCE"
	SaleTypeOther      = "OTHER"
)

const (
	PeriodStateOpen       = "open"
	PeriodStateClosingDay = "closing_day"
	PeriodStateClosed     = "closed"
)

// Period is the (month, year) unit of exclusivity for stored records.
// Transitions are monotonic: open -> closed, never back.
type Period struct {
	Month       int             `json:"month"`
	Year        int             `json:"year"`
	State       string          `json:"state"`
	RecordCount int             `json:"record_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (p Period) Closed() bool {
	return p.State == PeriodStateClosed
}

// PeriodTotals are the aggregates captured when a period closes.
type PeriodTotals struct {
	RecordCount int             `json:"record_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// PeriodSnapshot is the cacheable subset of Period used for the fast
// closed-check path.
type PeriodSnapshot struct {
	State       string `json:"state"`
	RecordCount int    `json:"record_count"`
}

// TargetPeriod is the period an upload is being applied to.
type TargetPeriod struct {
	Month        int  `json:"month"`
	Year         int  `json:"year"`
	IsClosingDay bool `json:"is_closing_day"`
	Historical   bool `json:"historical"`
}

const (
	AttemptStateProcessing = "processing"
	AttemptStateCompleted  = "completed"
	AttemptStateError      = "error"
	AttemptStateCancelled  = "cancelled"
)

// UploadAttempt is the durable audit entry for one user-initiated upload.
// It reaches exactly one terminal state and is never mutated afterwards.
type UploadAttempt struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	Month            int        `json:"month"`
	Year             int        `json:"year"`
	State            string     `json:"state"`
	RecordsProcessed *int       `json:"records_processed,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ActorUsername    string     `json:"actor_username,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

func (a UploadAttempt) Terminal() bool {
	switch a.State {
	case AttemptStateCompleted, AttemptStateError, AttemptStateCancelled:
		return true
	}
	return false
}

// PeriodSelector is an explicit historical (month, year) choice for a
// privileged backfill upload.
type PeriodSelector struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// UploadRequest carries one file through the ingestion pipeline.
type UploadRequest struct {
	Filename   string
	Content    string
	Historical *PeriodSelector
}

// ReplaceResult reports the outcome of the atomic period replace.
type ReplaceResult struct {
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// UploadResult is the completed-upload response.
type UploadResult struct {
	AttemptID     string           `json:"attempt_id"`
	Month         int              `json:"month"`
	Year          int              `json:"year"`
	Inserted      int              `json:"inserted"`
	Deleted       int              `json:"deleted"`
	PreviousCount int              `json:"previous_count"`
	TotalInStore  int              `json:"total_in_store"`
	InvalidRows   int              `json:"invalid_rows"`
	ClosePrompt   *PendingDecision `json:"close_prompt,omitempty"`
}

const (
	DecisionRegression  = "regression"
	DecisionClosePeriod = "close_period"
)

// PendingDecision is the resumable token handed to the operator when the
// pipeline needs an explicit confirm or cancel before proceeding.
type PendingDecision struct {
	Token     string `json:"token"`
	Kind      string `json:"kind"`
	Month     int    `json:"month"`
	Year      int    `json:"year"`
	AttemptID string `json:"attempt_id,omitempty"`
	Previous  int    `json:"previous_count,omitempty"`
	Current   int    `json:"current_count,omitempty"`
	Message   string `json:"message,omitempty"`
}

// UploadOutcome is either a completed result or a pending decision.
type UploadOutcome struct {
	Result  *UploadResult    `json:"result,omitempty"`
	Pending *PendingDecision `json:"pending,omitempty"`
}

// DecisionResult is the response to a confirm or cancel on a pending decision.
type DecisionResult struct {
	Result       *UploadResult `json:"result,omitempty"`
	PeriodClosed bool          `json:"period_closed,omitempty"`
	Period       *Period       `json:"period,omitempty"`
	Cancelled    bool          `json:"cancelled,omitempty"`
}

type PeriodStatusResponse struct {
	Period       Period `json:"period"`
	IsClosingDay bool   `json:"is_closing_day"`
}

type UploadAttemptListResponse struct {
	Attempts []UploadAttempt `json:"attempts"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
