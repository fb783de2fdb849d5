package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ventasync/backend/internal/domain"
)

// pendingDecision is the server-side state behind one confirmation
// token: the parsed batch waiting on a regression confirm, or the totals
// waiting on a close-period confirm. Whatever front end drives the
// pipeline resumes it by token.
type pendingDecision struct {
	Kind          string
	AttemptID     string
	Target        domain.TargetPeriod
	Records       []domain.SalesRecord
	PreviousCount int
	Totals        domain.PeriodTotals
	expiresAt     time.Time
}

// decisionRegistry holds pending confirmations keyed by token. Expired
// entries are swept on every access and reported through onExpire so the
// orchestrator can finalize their attempts: no attempt may linger in
// processing forever.
type decisionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	pending  map[string]pendingDecision
	onExpire func(pendingDecision)
}

func newDecisionRegistry(ttl time.Duration) *decisionRegistry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &decisionRegistry{ttl: ttl, pending: make(map[string]pendingDecision)}
}

func (r *decisionRegistry) put(d pendingDecision, view domain.PendingDecision) domain.PendingDecision {
	token := uuid.NewString()
	d.expiresAt = time.Now().Add(r.ttl)
	view.Token = token

	r.mu.Lock()
	expired := r.sweepLocked()
	r.pending[token] = d
	r.mu.Unlock()

	r.reportExpired(expired)
	return view
}

// take consumes a token: each decision resolves at most once.
func (r *decisionRegistry) take(token string) (pendingDecision, bool) {
	r.mu.Lock()
	expired := r.sweepLocked()
	d, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()

	r.reportExpired(expired)
	if !ok {
		return pendingDecision{}, false
	}
	return d, true
}

// sweep expires stale entries without consuming any token. Read paths
// call it so an abandoned confirmation finalizes its attempt even when
// no further upload ever touches the registry.
func (r *decisionRegistry) sweep() {
	r.mu.Lock()
	expired := r.sweepLocked()
	r.mu.Unlock()
	r.reportExpired(expired)
}

func (r *decisionRegistry) sweepLocked() []pendingDecision {
	now := time.Now()
	var expired []pendingDecision
	for token, d := range r.pending {
		if now.After(d.expiresAt) {
			delete(r.pending, token)
			expired = append(expired, d)
		}
	}
	return expired
}

func (r *decisionRegistry) reportExpired(expired []pendingDecision) {
	if r.onExpire == nil {
		return
	}
	for _, d := range expired {
		r.onExpire(d)
	}
}
