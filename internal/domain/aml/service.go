package aml

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medref/medref/internal/domain/emergency"
)

// CaseSource lists every emergency case. emergency.Repository satisfies it.
type CaseSource interface {
	ListAll(ctx context.Context) ([]*emergency.Case, error)
}

type HospitalSource interface {
	ListHospitals(ctx context.Context) ([]HospitalMeta, error)
}

type Service struct {
	cases     CaseSource
	hospitals HospitalSource
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(cases CaseSource, hospitals HospitalSource, logger zerolog.Logger) *Service {
	return &Service{
		cases:     cases,
		hospitals: hospitals,
		logger:    logger.With().Str("component", "aml").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard loads cases and hospitals concurrently and evaluates every rule.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		cases     []*emergency.Case
		hospitals []HospitalMeta
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cases, err = s.cases.ListAll(gctx); err != nil {
			return fmt.Errorf("load emergency cases: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if hospitals, err = s.hospitals.ListHospitals(gctx); err != nil {
			return fmt.Errorf("load hospitals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byRef := make(map[string]HospitalMeta, len(hospitals))
	for _, h := range hospitals {
		byRef[h.RefCode] = h
	}

	now := s.now()
	profiles := BuildProfiles(cases)
	alerts := ApplyRules(profiles, byRef, now)
	alerts = append(alerts, DetectLifeThreateningOveruse(cases)...)
	if alerts == nil {
		alerts = []Alert{}
	}

	s.logger.Info().Int("cases", len(cases)).Int("hospitals", len(hospitals)).
		Int("alerts", len(alerts)).Msg("aml dashboard built")
	return &Dashboard{
		GeneratedAt:         now,
		TotalEmergencyCases: len(cases),
		HospitalProfiles:    profiles,
		Alerts:              alerts,
	}, nil
}
