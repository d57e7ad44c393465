package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medref/medref/internal/domain/emergency"
	"github.com/medref/medref/internal/platform/db"
)

// Service settles emergency cases against prefunded country pools.
type Service struct {
	tx      db.Transactor
	cases   CaseReader
	pools   PoolRepository
	records RecordRepository
	fx      FX
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(tx db.Transactor, cases CaseReader, pools PoolRepository, records RecordRepository,
	fx FX, logger zerolog.Logger) *Service {
	return &Service{
		tx:      tx,
		cases:   cases,
		pools:   pools,
		records: records,
		fx:      fx,
		logger:  logger.With().Str("component", "settlement").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) quote(c *emergency.Case) *Quote {
	_, margin, dest := s.fx.Convert(c.EstimatedTreatmentCost)
	return &Quote{
		EmergencyID:       c.ID,
		SenderHospital:    c.SourceHospitalRefCode,
		ReceiverHospital:  c.DestinationHospitalRefCode,
		DestinationPool:   c.DestinationCountry,
		SendingAmount:     c.EstimatedTreatmentCost,
		SendingCurrency:   c.Currency,
		ReceivingAmount:   dest,
		ReceivingCurrency: s.fx.Currency,
		FXRate:            s.fx.Rate,
		FXMarginPercent:   s.fx.MarginPercent(),
		Margin:            margin.Round(2),
	}
}

// Quote previews the settlement of a case. No pool is read or locked.
func (s *Service) Quote(ctx context.Context, caseID uuid.UUID) (*Quote, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.quote(c), nil
}

// Settle debits the destination country's pool by the converted case amount
// and records the payment, in one transaction. The pool row stays locked from
// the balance check to commit, and any failure leaves both pool and records
// untouched.
func (s *Service) Settle(ctx context.Context, caseID uuid.UUID) (*Record, error) {
	var rec *Record
	var balanceAfter decimal.Decimal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetByID(ctx, caseID)
		if err != nil {
			return err
		}
		q := s.quote(c)

		pools, err := s.pools.LockActive(ctx, c.DestinationCountry, s.fx.Currency)
		if err != nil {
			return err
		}
		if len(pools) != 1 {
			return fmt.Errorf("%w: %d active %s pools for %s", ErrPoolUnavailable, len(pools), s.fx.Currency, c.DestinationCountry)
		}
		pool := pools[0]
		if pool.Available().LessThan(q.ReceivingAmount) {
			return fmt.Errorf("%w: available %s, required %s", ErrInsufficientFunds, pool.Available(), q.ReceivingAmount)
		}

		updated, err := s.pools.Debit(ctx, pool.ID, q.ReceivingAmount, s.now())
		if err != nil {
			return err
		}
		balanceAfter = updated.Available()

		rec = &Record{
			EmergencyID:             c.ID,
			PoolID:                  pool.ID,
			SenderHospitalRefCode:   c.SourceHospitalRefCode,
			ReceiverHospitalRefCode: c.DestinationHospitalRefCode,
			SendingAmount:           c.EstimatedTreatmentCost,
			SendingCurrency:         c.Currency,
			ReceivingAmount:         q.ReceivingAmount,
			ReceivingCurrency:       s.fx.Currency,
			FXRate:                  s.fx.Rate,
			FXMarginPercent:         s.fx.MarginPercent(),
			PaymentStatus:           PaymentReleased,
			AMLStatus:               AMLCleared,
			IsDemo:                  true,
		}
		return s.records.Insert(ctx, rec)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("emergency_id", caseID.String()).Msg("settlement failed")
		return nil, err
	}

	s.logger.Info().Str("emergency_id", caseID.String()).
		Str("payment_id", rec.ID.String()).
		Str("amount", rec.ReceivingAmount.StringFixed(2)).
		Str("pool_available", balanceAfter.StringFixed(2)).
		Msg("settlement released")
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.records.GetByID(ctx, id)
}

// SeedPool creates or refunds the active pool for a (country, currency)
// pair. Used by the operator CLI.
func (s *Service) SeedPool(ctx context.Context, country, currency string, total decimal.Decimal) (*Pool, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if country == "" || len(currency) != 3 {
		return nil, fmt.Errorf("%w: country and a 3-letter currency are required", ErrInvalidPool)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: total must not be negative", ErrInvalidPool)
	}
	p := &Pool{
		CountryCode:     country,
		CurrencyCode:    currency,
		TotalBalance:    total,
		ReservedBalance: decimal.Zero,
		Status:          PoolActive,
	}
	if err := s.pools.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("country", country).Str("currency", currency).Str("total", total.StringFixed(2)).Msg("pool seeded")
	return p, nil
}

func (s *Service) ListPools(ctx context.Context) ([]*Pool, error) {
	return s.pools.List(ctx)
}
