package emergency

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/platform/livefeed"
)

// Publisher pushes case events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, event livefeed.Event) error
}

// EventCaseCreated is published to the destination hospital's topic.
const EventCaseCreated = "emergency.created"

type Service struct {
	cases     Repository
	publisher Publisher
	logger    zerolog.Logger
}

func NewService(cases Repository, logger zerolog.Logger) *Service {
	return &Service{cases: cases, logger: logger.With().Str("component", "emergency").Logger()}
}

// SetPublisher enables live notification of new cases.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Create files a referral on behalf of the caller's hospital. The source
// hospital and, when known, the source country come from the caller's
// identity rather than the request body.
func (s *Service) Create(ctx context.Context, caller identity.Identity, c *Case) error {
	if !caller.HasHospital() {
		return ErrNoHospital
	}
	c.SourceHospitalRefCode = caller.HospitalRefCode
	if caller.Country != "" {
		c.SourceCountry = caller.Country
	}
	c.normalize()
	if err := c.validate(); err != nil {
		return err
	}

	c.Status = StatusWaitingForHospital
	createdBy := caller.AuthUserID
	c.CreatedBy = &createdBy
	if err := s.cases.Create(ctx, c); err != nil {
		return err
	}

	s.logger.Info().Str("emergency_id", c.ID.String()).
		Str("source", c.SourceHospitalRefCode).
		Str("destination", c.DestinationHospitalRefCode).
		Bool("life_threatening", c.LifeThreatening).
		Msg("emergency case created")
	s.publish(ctx, c)
	return nil
}

// publish notifies the destination hospital. The case is already stored, so
// failures are only logged.
func (s *Service) publish(ctx context.Context, c *Case) {
	if s.publisher == nil {
		return
	}
	ev, err := livefeed.NewEvent(EventCaseCreated, c.DestinationHospitalRefCode, c.ID.String(), c)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("emergency_id", c.ID.String()).Msg("live feed publish failed")
	}
}

// Get returns a case the caller's hospital sent or received. Cases of other
// hospitals are reported as not found.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Case, error) {
	if !caller.HasHospital() {
		return nil, ErrNoHospital
	}
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.involves(caller.HospitalRefCode) {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

func (s *Service) ListSent(ctx context.Context, caller identity.Identity, limit, offset int) ([]*Case, int, error) {
	if !caller.HasHospital() {
		return nil, 0, ErrNoHospital
	}
	return s.cases.ListBySource(ctx, caller.HospitalRefCode, limit, offset)
}

// ListReceived returns up to MaxReceived open cases addressed to the
// caller's hospital, newest first.
func (s *Service) ListReceived(ctx context.Context, caller identity.Identity) ([]*Case, error) {
	if !caller.HasHospital() {
		return nil, ErrNoHospital
	}
	return s.cases.ListByDestination(ctx, strings.TrimSpace(caller.HospitalRefCode), OpenStatuses, MaxReceived)
}
