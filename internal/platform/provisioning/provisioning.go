// Package provisioning creates identity-provider accounts for newly approved
// hospitals and emails them a password-setup link. Work is handed to a
// Dispatcher after the approving transaction commits; failures are logged and
// never propagate back to the approval.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medref/medref/internal/platform/authprovider"
	"github.com/medref/medref/internal/platform/notification"
)

// Job describes one account to provision.
type Job struct {
	ID           string    `json:"id"`
	HospitalID   string    `json:"hospital_id"`
	HospitalName string    `json:"hospital_name"`
	RefCode      string    `json:"hospital_ref_code"`
	Email        string    `json:"email"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewJob stamps a job id and creation time.
func NewJob(hospitalID, hospitalName, refCode, email string) Job {
	return Job{
		ID:           uuid.NewString(),
		HospitalID:   hospitalID,
		HospitalName: hospitalName,
		RefCode:      refCode,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
	}
}

// Dispatcher hands a job off for asynchronous execution. Dispatch must not
// block on the job itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// AccountProvider is the part of the identity provider the provisioner uses.
type AccountProvider interface {
	CreateUser(ctx context.Context, email string) (*authprovider.User, error)
	FindUserByEmail(ctx context.Context, email string) (*authprovider.User, error)
	GenerateRecoveryLink(ctx context.Context, email, redirectTo string) (string, error)
}

// Mailer renders and sends a templated email.
type Mailer interface {
	Send(ctx context.Context, templateID, recipient string, data map[string]string) error
}

// AccountLinker records the identity-provider user id on the hospital so
// later requests resolve to it.
type AccountLinker interface {
	LinkAuthUser(ctx context.Context, hospitalID, authUserID string) error
}

// Provisioner runs a single job to completion.
type Provisioner struct {
	accounts    AccountProvider
	mailer      Mailer
	linker      AccountLinker
	redirectURL string
	logger      zerolog.Logger
}

func NewProvisioner(accounts AccountProvider, mailer Mailer, redirectURL string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		accounts:    accounts,
		mailer:      mailer,
		redirectURL: redirectURL,
		logger:      logger.With().Str("component", "provisioning").Logger(),
	}
}

// WithLinker sets the linker called after an account is created.
func (p *Provisioner) WithLinker(l AccountLinker) *Provisioner {
	p.linker = l
	return p
}

// Run creates the account, links it to the hospital, generates a recovery
// link and mails it. An account that already exists is looked up and linked
// again, so a retried job converges on the same state whichever step failed
// before. Every failure is wrapped with notification.ErrNotificationFailed.
func (p *Provisioner) Run(ctx context.Context, job Job) error {
	if job.Email == "" {
		return fmt.Errorf("%w: hospital %s has no contact email", notification.ErrNotificationFailed, job.HospitalID)
	}

	user, err := p.accounts.CreateUser(ctx, job.Email)
	if errors.Is(err, authprovider.ErrUserExists) {
		p.logger.Info().Str("hospital_id", job.HospitalID).Str("email", job.Email).
			Msg("account already exists, linking existing user")
		user, err = p.accounts.FindUserByEmail(ctx, job.Email)
		if err != nil {
			return fmt.Errorf("%w: look up existing account: %w", notification.ErrNotificationFailed, err)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: create account: %w", notification.ErrNotificationFailed, err)
	}

	if p.linker != nil {
		if user == nil || user.ID == "" {
			return fmt.Errorf("%w: provider returned no user id for %s", notification.ErrNotificationFailed, job.Email)
		}
		if err := p.linker.LinkAuthUser(ctx, job.HospitalID, user.ID); err != nil {
			return fmt.Errorf("%w: link account: %w", notification.ErrNotificationFailed, err)
		}
	}

	link, err := p.accounts.GenerateRecoveryLink(ctx, job.Email, p.redirectURL)
	if err != nil {
		return fmt.Errorf("%w: generate setup link: %w", notification.ErrNotificationFailed, err)
	}

	err = p.mailer.Send(ctx, notification.TemplatePasswordSetup, job.Email, map[string]string{
		"hospital_name":     job.HospitalName,
		"hospital_ref_code": job.RefCode,
		"action_link":       link,
	})
	if err != nil {
		return err
	}

	p.logger.Info().Str("hospital_id", job.HospitalID).Str("email", job.Email).Msg("account provisioned")
	return nil
}

func (p *Provisioner) logFailure(job Job, err error) {
	p.logger.Error().Err(err).
		Str("job_id", job.ID).
		Str("hospital_id", job.HospitalID).
		Str("email", job.Email).
		Int("attempt", job.Attempt).
		Msg("account provisioning failed")
}
