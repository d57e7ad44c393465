package hospital

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore backs the three repositories with maps. memTransactor serializes
// transactions and rolls the maps back when fn fails, which is enough to
// model row locking and atomic attempts.
type memStore struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]Request
	hospitals map[uuid.UUID]Hospital
	accounts  map[uuid.UUID]SettlementAccount
}

func newMemStore() *memStore {
	return &memStore{
		requests:  map[uuid.UUID]Request{},
		hospitals: map[uuid.UUID]Hospital{},
		accounts:  map[uuid.UUID]SettlementAccount{},
	}
}

type memSnapshot struct {
	requests  map[uuid.UUID]Request
	hospitals map[uuid.UUID]Hospital
	accounts  map[uuid.UUID]SettlementAccount
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		requests:  make(map[uuid.UUID]Request, len(s.requests)),
		hospitals: make(map[uuid.UUID]Hospital, len(s.hospitals)),
		accounts:  make(map[uuid.UUID]SettlementAccount, len(s.accounts)),
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.hospitals {
		snap.hospitals[k] = v
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests, s.hospitals, s.accounts = snap.requests, snap.hospitals, snap.accounts
}

func (s *memStore) hospitalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hospitals)
}

func (s *memStore) request(id uuid.UUID) Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func (s *memStore) seedRequest(r Request) uuid.UUID {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RequestStatus == "" {
		r.RequestStatus = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.requests[r.ID] = r
	s.mu.Unlock()
	return r.ID
}

func (s *memStore) seedHospital(h Hospital) Hospital {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	s.mu.Lock()
	s.hospitals[h.ID] = h
	s.mu.Unlock()
	return h
}

type memTransactor struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// -- requests --

type memRequests struct{ s *memStore }

func (r memRequests) Create(_ context.Context, req *Request) error {
	req.ID = uuid.New()
	req.RequestStatus = StatusPending
	req.CreatedAt = time.Now().UTC()
	r.s.mu.Lock()
	r.s.requests[req.ID] = *req
	r.s.mu.Unlock()
	return nil
}

func (r memRequests) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	delete(r.s.requests, id)
	r.s.mu.Unlock()
	return nil
}

func (r memRequests) SetCertificatePath(_ context.Context, id uuid.UUID, path string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return ErrNotFoundOrAlreadyProcessed
	}
	req.RegistrationCertificateURL = &path
	r.s.requests[id] = req
	return nil
}

func (r memRequests) LockPending(_ context.Context, id uuid.UUID) (*Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok || req.RequestStatus != StatusPending {
		return nil, ErrNotFoundOrAlreadyProcessed
	}
	return &req, nil
}

func (r memRequests) MarkReviewed(_ context.Context, id uuid.UUID, status RequestStatus, reviewerID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok || req.RequestStatus != StatusPending {
		return ErrNotFoundOrAlreadyProcessed
	}
	req.RequestStatus = status
	req.ReviewedBy = &reviewerID
	req.ReviewedAt = &at
	r.s.requests[id] = req
	return nil
}

func (r memRequests) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, ErrNotFoundOrAlreadyProcessed
	}
	return &req, nil
}

func (r memRequests) ListByStatus(_ context.Context, status RequestStatus, limit, offset int) ([]*Request, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*Request
	for _, req := range r.s.requests {
		if req.RequestStatus == status {
			req := req
			all = append(all, &req)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r memRequests) PendingEmailExists(_ context.Context, email string) (bool, error) {
	return r.pendingMatch(func(req Request) bool { return strings.EqualFold(req.OfficialEmail, email) }), nil
}

func (r memRequests) PendingRegistrationNumberExists(_ context.Context, number string) (bool, error) {
	return r.pendingMatch(func(req Request) bool { return req.RegistrationNumber == number }), nil
}

func (r memRequests) pendingMatch(match func(Request) bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.RequestStatus == StatusPending && match(req) {
			return true
		}
	}
	return false
}

// -- hospitals --

type memHospitals struct{ s *memStore }

func (r memHospitals) Insert(_ context.Context, h *Hospital) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.hospitals {
		if existing.HospitalRefCode == h.HospitalRefCode {
			return ErrDuplicateRefCode
		}
		if strings.EqualFold(existing.OfficialEmail, h.OfficialEmail) {
			return ErrAlreadyRegistered
		}
	}
	r.s.hospitals[h.ID] = *h
	return nil
}

func (r memHospitals) CountInJurisdiction(_ context.Context, country, city string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, h := range r.s.hospitals {
		if h.Country == country && h.City == city {
			n++
		}
	}
	return n, nil
}

func (r memHospitals) GetByID(_ context.Context, id uuid.UUID) (*Hospital, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.hospitals[id]
	if !ok {
		return nil, ErrHospitalNotFound
	}
	return &h, nil
}

func (r memHospitals) GetByAuthUser(_ context.Context, authUserID string) (*Hospital, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, h := range r.s.hospitals {
		if h.AuthUserID != nil && *h.AuthUserID == authUserID {
			return &h, nil
		}
	}
	return nil, ErrHospitalNotFound
}

func (r memHospitals) EmailExists(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, h := range r.s.hospitals {
		if strings.EqualFold(h.OfficialEmail, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r memHospitals) PhoneExists(_ context.Context, phone string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, h := range r.s.hospitals {
		if h.OfficialPhone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (r memHospitals) LinkAuthUser(_ context.Context, id uuid.UUID, authUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.hospitals[id]
	if !ok {
		return ErrHospitalNotFound
	}
	h.AuthUserID = &authUserID
	r.s.hospitals[id] = h
	return nil
}

// -- settlement accounts --

type memAccounts struct{ s *memStore }

func (r memAccounts) GetPrimary(_ context.Context, hospitalID uuid.UUID) (*SettlementAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[hospitalID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (r memAccounts) Create(_ context.Context, a *SettlementAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[a.HospitalID]; ok {
		return ErrAccountExists
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.s.accounts[a.HospitalID] = *a
	return nil
}

func (r memAccounts) Update(_ context.Context, a *SettlementAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.accounts[a.HospitalID]
	if !ok {
		return ErrAccountNotFound
	}
	if cur.VerificationStatus == VerificationVerified {
		return ErrAccountVerified
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.accounts[a.HospitalID] = *a
	return nil
}
