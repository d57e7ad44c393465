package hospital

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/notification"
)

// URLSigner issues time-limited certificate view links.
type URLSigner interface {
	SignedURL(objectKey string) (string, error)
}

// Certificate is an uploaded registration certificate.
type Certificate struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	requests  RequestRepository
	hospitals HospitalRepository
	accounts  SettlementAccountRepository
	files     blobstore.Store
	signer    URLSigner
	notifier  Notifier
	logger    zerolog.Logger
}

func NewService(requests RequestRepository, hospitals HospitalRepository, accounts SettlementAccountRepository,
	files blobstore.Store, signer URLSigner, logger zerolog.Logger) *Service {
	return &Service{
		requests:  requests,
		hospitals: hospitals,
		accounts:  accounts,
		files:     files,
		signer:    signer,
		logger:    logger.With().Str("component", "hospital").Logger(),
	}
}

// SetNotifier enables the registration-received email.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// -- Registration --

// Register files a registration request and stores its certificate. Checks
// run in a fixed order and the first failure is returned. If the certificate
// cannot be stored the request row is removed again.
func (s *Service) Register(ctx context.Context, req *Request, cert *Certificate) (*Request, error) {
	if cert == nil {
		return nil, ErrCertificateRequired
	}
	req.OfficialEmail = strings.TrimSpace(req.OfficialEmail)
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if err := req.validate(); err != nil {
		return nil, err
	}

	checks := []struct {
		exists func(context.Context, string) (bool, error)
		arg    string
		err    error
	}{
		{s.requests.PendingEmailExists, req.OfficialEmail, ErrPendingEmail},
		{s.hospitals.EmailExists, req.OfficialEmail, ErrAlreadyRegistered},
		{s.requests.PendingRegistrationNumberExists, req.RegistrationNumber, ErrPendingRegistrationNumber},
		{s.hospitals.PhoneExists, req.OfficialPhone, ErrPhoneRegistered},
	}
	for _, c := range checks {
		found, err := c.exists(ctx, c.arg)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, c.err
		}
	}
	if !req.ConsentGiven {
		return nil, ErrConsentRequired
	}

	ext, err := blobstore.CertificateExtension(cert.ContentType, cert.Size)
	if err != nil {
		return nil, err
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	key := blobstore.PendingCertificateKey(req.ID.String(), ext)
	if _, err := s.files.Put(ctx, key, cert.ContentType, cert.Body); err != nil {
		if derr := s.requests.Delete(ctx, req.ID); derr != nil {
			s.logger.Error().Err(derr).Str("request_id", req.ID.String()).Msg("failed to remove request after upload error")
		}
		return nil, fmt.Errorf("upload certificate: %w", err)
	}
	if err := s.requests.SetCertificatePath(ctx, req.ID, key); err != nil {
		return nil, fmt.Errorf("save certificate path: %w", err)
	}
	req.RegistrationCertificateURL = &key

	s.logger.Info().Str("request_id", req.ID.String()).Str("country", req.Country).Str("city", req.City).
		Msg("registration request submitted")
	if s.notifier != nil {
		err := s.notifier.Send(ctx, notification.TemplateRegistrationReceived, req.OfficialEmail,
			map[string]string{"hospital_name": req.HospitalName})
		if err != nil {
			s.logger.Error().Err(err).Str("request_id", req.ID.String()).Msg("registration receipt failed")
		}
	}
	return req, nil
}

// -- Admin review --

func (s *Service) ListRequests(ctx context.Context, status string, limit, offset int) ([]*Request, int, error) {
	if status == "" {
		status = string(StatusPending)
	}
	st, err := ParseRequestStatus(status)
	if err != nil {
		return nil, 0, err
	}
	return s.requests.ListByStatus(ctx, st, limit, offset)
}

// ListPending returns pending requests with signed certificate links. A link
// that cannot be signed is left nil; the row is still returned.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]PendingView, int, error) {
	reqs, total, err := s.requests.ListByStatus(ctx, StatusPending, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	views := make([]PendingView, 0, len(reqs))
	for _, r := range reqs {
		v := PendingView{
			ID:                         r.ID,
			HospitalName:               r.HospitalName,
			RegistrationCertificateURL: r.RegistrationCertificateURL,
			CreatedAt:                  r.CreatedAt,
		}
		if r.RegistrationCertificateURL != nil && s.signer != nil {
			link, err := s.signer.SignedURL(*r.RegistrationCertificateURL)
			if err != nil {
				s.logger.Warn().Err(err).Str("request_id", r.ID.String()).Msg("certificate link signing failed")
			} else {
				v.CertificateViewURL = &link
			}
		}
		views = append(views, v)
	}
	return views, total, nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

// LinkAuthUser binds a provisioned identity-provider account to a hospital.
func (s *Service) LinkAuthUser(ctx context.Context, hospitalID, authUserID string) error {
	id, err := uuid.Parse(hospitalID)
	if err != nil {
		return fmt.Errorf("%w: invalid hospital id", ErrValidation)
	}
	return s.hospitals.LinkAuthUser(ctx, id, authUserID)
}

// -- Settlement accounts --

func (s *Service) AddSettlementAccount(ctx context.Context, authUserID string, a *SettlementAccount) error {
	if err := a.validate(); err != nil {
		return err
	}
	h, err := s.hospitals.GetByAuthUser(ctx, authUserID)
	if err != nil {
		return err
	}

	if _, err := s.accounts.GetPrimary(ctx, h.ID); err == nil {
		return ErrAccountExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	a.HospitalID = h.ID
	a.VerificationStatus = VerificationPending
	a.IsPrimary = true
	a.Currency = strings.ToUpper(a.Currency)
	a.Country = strings.ToUpper(a.Country)
	if err := s.accounts.Create(ctx, a); err != nil {
		return err
	}
	s.logger.Info().Str("hospital_id", h.ID.String()).Str("account_id", a.ID.String()).Msg("settlement account added")
	return nil
}

func (s *Service) UpdateSettlementAccount(ctx context.Context, authUserID string, patch AccountPatch) (*SettlementAccount, error) {
	h, err := s.hospitals.GetByAuthUser(ctx, authUserID)
	if err != nil {
		return nil, err
	}
	a, err := s.accounts.GetPrimary(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if a.VerificationStatus == VerificationVerified {
		return nil, ErrAccountVerified
	}
	if patch.IsEmpty() {
		return nil, ErrNoFieldsToUpdate
	}

	patch.Apply(a)
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := s.accounts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
