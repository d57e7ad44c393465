package hospital

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/internal/platform/notification"
	"github.com/medref/medref/internal/platform/provisioning"
)

// MaxAllocationAttempts bounds how many reference codes are tried before an
// approval gives up with ErrAllocationExhausted.
const MaxAllocationAttempts = 5

// Notifier sends a templated email. Used for the rejection notice.
type Notifier interface {
	Send(ctx context.Context, templateID, recipient string, data map[string]string) error
}

// Allocator moves pending registration requests to their terminal state and,
// on approval, creates the hospital with a unique reference code.
//
// Each attempt is its own transaction: lock the pending request, stamp the
// decision, count hospitals in the same (country, city) and insert with
// sequence count+1. A reference-code collision rolls the whole attempt back,
// status flip included, and the next attempt starts over with a fresh count.
// No lock is held between attempts.
type Allocator struct {
	tx         db.Transactor
	requests   RequestRepository
	hospitals  HospitalRepository
	dispatcher provisioning.Dispatcher
	notifier   Notifier
	logger     zerolog.Logger
	now        func() time.Time
}

func NewAllocator(tx db.Transactor, requests RequestRepository, hospitals HospitalRepository,
	dispatcher provisioning.Dispatcher, logger zerolog.Logger) *Allocator {
	return &Allocator{
		tx:         tx,
		requests:   requests,
		hospitals:  hospitals,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "allocator").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier enables the rejection email.
func (a *Allocator) SetNotifier(n Notifier) {
	a.notifier = n
}

// Approve turns a pending request into a hospital. Provisioning of the
// hospital's login is dispatched after commit and never undoes the approval.
func (a *Allocator) Approve(ctx context.Context, requestID uuid.UUID, reviewerID string) (*Hospital, error) {
	for attempt := 1; attempt <= MaxAllocationAttempts; attempt++ {
		h, err := a.approveAttempt(ctx, requestID, reviewerID)
		if err == nil {
			a.logger.Info().Str("request_id", requestID.String()).Str("hospital_ref_code", h.HospitalRefCode).
				Int("attempt", attempt).Str("reviewed_by", reviewerID).Msg("hospital approved")
			a.provision(ctx, h)
			return h, nil
		}
		if !errors.Is(err, ErrDuplicateRefCode) {
			return nil, err
		}
		a.logger.Warn().Str("request_id", requestID.String()).Int("attempt", attempt).
			Err(err).Msg("reference code collision, retrying")
	}

	a.logger.Error().Str("request_id", requestID.String()).Int("attempts", MaxAllocationAttempts).
		Msg("reference code allocation exhausted")
	return nil, ErrAllocationExhausted
}

func (a *Allocator) approveAttempt(ctx context.Context, requestID uuid.UUID, reviewerID string) (*Hospital, error) {
	var created *Hospital
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := a.requests.LockPending(ctx, requestID)
		if err != nil {
			return err
		}

		at := a.now()
		if err := a.requests.MarkReviewed(ctx, requestID, StatusApproved, reviewerID, at); err != nil {
			return err
		}

		count, err := a.hospitals.CountInJurisdiction(ctx, req.Country, req.City)
		if err != nil {
			return err
		}

		h := newHospitalFromRequest(req, reviewerID, ReferenceCode(req.Country, req.City, req.HospitalName, count+1), at)
		if err := a.hospitals.Insert(ctx, h); err != nil {
			return err
		}
		created = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Reject closes a pending request without creating a hospital.
func (a *Allocator) Reject(ctx context.Context, requestID uuid.UUID, reviewerID string) error {
	var req *Request
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = a.requests.LockPending(ctx, requestID); err != nil {
			return err
		}
		return a.requests.MarkReviewed(ctx, requestID, StatusRejected, reviewerID, a.now())
	})
	if err != nil {
		return err
	}

	a.logger.Info().Str("request_id", requestID.String()).Str("reviewed_by", reviewerID).Msg("hospital request rejected")
	if a.notifier != nil {
		err := a.notifier.Send(ctx, notification.TemplateRegistrationRejected, req.OfficialEmail,
			map[string]string{"hospital_name": req.HospitalName})
		if err != nil {
			a.logger.Error().Err(err).Str("request_id", requestID.String()).Str("email", req.OfficialEmail).
				Msg("rejection notice failed")
		}
	}
	return nil
}

func (a *Allocator) provision(ctx context.Context, h *Hospital) {
	if a.dispatcher == nil {
		return
	}
	job := provisioning.NewJob(h.ID.String(), h.HospitalName, h.HospitalRefCode, h.OfficialEmail)
	if err := a.dispatcher.Dispatch(ctx, job); err != nil {
		a.logger.Error().Err(fmt.Errorf("%w: %w", notification.ErrNotificationFailed, err)).
			Str("request_id", requestIDFromContext(ctx)).
			Str("hospital_id", h.ID.String()).
			Str("email", h.OfficialEmail).
			Msg("account provisioning dispatch failed")
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the HTTP request id for provisioning logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
