// Package memory provides in-process implementations of the reservation
// store, the payment ledger, the rate source and the operator directory.
// It backs STORAGE_DRIVER=memory and the service tests.  Each method
// holds the store mutex for its whole body, which makes every method one
// atomic storage operation with the same conditional semantics as the
// MySQL repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
	"github.com/iliyamo/stay-reservation/internal/repository"
)

// Store holds reservations.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*model.Reservation
	byCode map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*model.Reservation), byCode: make(map[string]string)}
}

func clone(r *model.Reservation) *model.Reservation {
	c := *r
	return &c
}

func (s *Store) Insert(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[res.Code]; ok {
		return repository.ErrDuplicateCode
	}
	s.byID[res.ID] = clone(res)
	s.byCode[res.Code] = res.ID
	return nil
}

func (s *Store) GetByCode(_ context.Context, code string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) HasOverlap(_ context.Context, unitID uint64, checkIn, checkOut time.Time, statuses []model.Status, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byID {
		if r.UnitID != unitID || !contains(statuses, r.Status) || !r.Overlaps(checkIn, checkOut) {
			continue
		}
		if r.Status == model.StatusPreReserved && (r.ExpiresAt == nil || !r.ExpiresAt.After(now)) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func contains(statuses []model.Status, s model.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) Confirm(_ context.Context, code string, now time.Time) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	r := s.byID[id]
	if r.Status != model.StatusPreReserved {
		return nil, model.ErrInvalidState
	}
	if r.ExpiresAt == nil || !r.ExpiresAt.After(now) {
		return nil, model.ErrExpired
	}
	for _, other := range s.byID {
		if other.ID != r.ID && other.UnitID == r.UnitID && other.Status == model.StatusConfirmed &&
			other.Overlaps(r.CheckIn, r.CheckOut) {
			return nil, model.ErrConflict
		}
	}
	t := now
	r.Status = model.StatusConfirmed
	r.ConfirmedAt = &t
	r.ExpiresAt = nil
	r.UpdatedAt = now
	return clone(r), nil
}

func (s *Store) Expire(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok || r.Status != model.StatusPreReserved || r.ExpiresAt == nil || r.ExpiresAt.After(now) {
		return false, nil
	}
	r.Status = model.StatusExpired
	r.UpdatedAt = now
	return true, nil
}

func (s *Store) Cancel(_ context.Context, code, reason string, now time.Time) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	r := s.byID[id]
	if r.Status != model.StatusPreReserved && r.Status != model.StatusConfirmed {
		return nil, model.ErrInvalidState
	}
	t := now
	r.Status = model.StatusCancelled
	r.CancelledAt = &t
	if reason != "" {
		why := reason
		r.CancelReason = &why
	}
	r.ExpiresAt = nil
	r.UpdatedAt = now
	return clone(r), nil
}

func (s *Store) ListExpirable(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return s.selectSorted(limit, func(r *model.Reservation) bool {
		return r.Status == model.StatusPreReserved && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
	}), nil
}

func (s *Store) ListRemindable(_ context.Context, from, until time.Time, limit int) ([]model.Reservation, error) {
	return s.selectSorted(limit, func(r *model.Reservation) bool { return remindable(r, from, until) }), nil
}

func (s *Store) ClaimReminder(_ context.Context, id string, from, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok || !remindable(r, from, until) {
		return false, nil
	}
	r.ReminderSent = true
	r.UpdatedAt = from
	return true, nil
}

func remindable(r *model.Reservation, from, until time.Time) bool {
	return r.Status == model.StatusPreReserved && !r.ReminderSent && r.ExpiresAt != nil &&
		r.ExpiresAt.After(from) && !r.ExpiresAt.After(until)
}

func (s *Store) ListByUnit(_ context.Context, unitID uint64) ([]model.Reservation, error) {
	out := s.selectSorted(0, func(r *model.Reservation) bool { return r.UnitID == unitID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// selectSorted returns matching rows ordered by deadline; limit <= 0
// means no limit.
func (s *Store) selectSorted(limit int, match func(*model.Reservation) bool) []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range s.byID {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID < out[j].ID
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Ledger is the in-memory payment event ledger.
type Ledger struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events map[string][]model.PaymentEvent
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{}), events: make(map[string][]model.PaymentEvent)}
}

func (l *Ledger) Append(_ context.Context, ev *model.PaymentEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[ev.ExternalEventID]; dup {
		return true, nil
	}
	list := l.events[ev.ExternalReference]
	ev.Sequence = uint64(len(list)) + 1
	l.seen[ev.ExternalEventID] = struct{}{}
	l.events[ev.ExternalReference] = append(list, *ev)
	return false, nil
}

func (l *Ledger) Events(_ context.Context, reference string) ([]model.PaymentEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.PaymentEvent, len(l.events[reference]))
	copy(out, l.events[reference])
	return out, nil
}

// Rates serves per-unit policies with a fallback.
type Rates struct {
	mu       sync.RWMutex
	Defaults pricing.Policy
	units    map[uint64]pricing.Policy
}

// NewRates returns a Rates source that prices every unit with defaults
// until Upsert is called for it.
func NewRates(defaults pricing.Policy) *Rates {
	return &Rates{Defaults: defaults, units: make(map[uint64]pricing.Policy)}
}

func (r *Rates) PolicyFor(_ context.Context, unitID uint64) (pricing.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.units[unitID]; ok {
		return p, nil
	}
	return r.Defaults, nil
}

func (r *Rates) Upsert(_ context.Context, unitID uint64, p pricing.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unitID] = p
	return nil
}

// Operators is an in-memory operator directory.
type Operators struct {
	mu     sync.Mutex
	nextID uint64
	byMail map[string]repository.Operator
	hash   func(password string, cost int) (string, error)
}

// NewOperators returns an empty directory hashing passwords with hash.
func NewOperators(hash func(password string, cost int) (string, error)) *Operators {
	return &Operators{byMail: make(map[string]repository.Operator), hash: hash}
}

func (o *Operators) Create(_ context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	h, err := o.hash(password, cost)
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byMail[email]; ok {
		return 0, repository.ErrEmailExists
	}
	o.nextID++
	o.byMail[email] = repository.Operator{
		ID: o.nextID, Email: email, PasswordHash: h, Role: role, IsActive: true, CreatedAt: time.Now().UTC(),
	}
	return o.nextID, nil
}

func (o *Operators) GetByEmail(_ context.Context, email string) (repository.Operator, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.byMail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return repository.Operator{}, model.ErrNotFound
	}
	return op, nil
}
