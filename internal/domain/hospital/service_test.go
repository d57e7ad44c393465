package hospital

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/notification"
)

type stubSigner struct{ err error }

func (s stubSigner) SignedURL(key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://files.example/" + key + "?sig=1", nil
}

type failingStore struct{ blobstore.Store }

func (failingStore) Put(context.Context, string, string, io.Reader) (*blobstore.Object, error) {
	return nil, errors.New("disk full")
}

func newTestService(store *memStore, files blobstore.Store) *Service {
	return NewService(memRequests{store}, memHospitals{store}, memAccounts{store}, files, stubSigner{}, zerolog.Nop())
}

func pdf() *Certificate {
	return &Certificate{ContentType: "application/pdf", Size: 4, Body: bytes.NewReader([]byte("%PDF"))}
}

func newRegistration() *Request {
	return &Request{
		HospitalName:       "St. Mary's",
		HospitalType:       "general",
		OwnershipType:      "private",
		Country:            "us",
		State:              "MA",
		City:               "Boston",
		Address:            "1 Main St",
		OfficialEmail:      " admin@stmarys.example ",
		OfficialPhone:      "+1-555-0100",
		RegistrationNumber: "REG-1",
		AdminName:          "Jane Admin",
		AdminContact:       "+1-555-0101",
		ConsentGiven:       true,
	}
}

func TestService_Register(t *testing.T) {
	store := newMemStore()
	files := blobstore.NewMemoryStore()
	svc := newTestService(store, files)
	sender := &notification.MockEmailSender{}
	svc.SetNotifier(notification.NewMailer(sender, nil))

	req, err := svc.Register(context.Background(), newRegistration(), pdf())
	require.NoError(t, err)

	assert.Equal(t, "US", req.Country)
	assert.Equal(t, "admin@stmarys.example", req.OfficialEmail)
	require.NotNil(t, req.RegistrationCertificateURL)
	assert.Equal(t, "hospitals/pending/"+req.ID.String()+"/registration_certificate.pdf", *req.RegistrationCertificateURL)

	stored := store.request(req.ID)
	assert.Equal(t, StatusPending, stored.RequestStatus)
	assert.Equal(t, *req.RegistrationCertificateURL, *stored.RegistrationCertificateURL)

	rc, obj, err := files.Get(context.Background(), *req.RegistrationCertificateURL)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int64(4), obj.Size)

	require.Len(t, sender.Calls(), 1)
	assert.Equal(t, "admin@stmarys.example", sender.Calls()[0].To)
}

func TestService_RegisterChecks(t *testing.T) {
	tests := []struct {
		name    string
		seed    func(*memStore)
		mutate  func(*Request)
		cert    *Certificate
		wantErr error
	}{
		{name: "missing certificate", wantErr: ErrCertificateRequired},
		{name: "missing name", mutate: func(r *Request) { r.HospitalName = "" }, cert: pdf(), wantErr: ErrValidation},
		{name: "bad email", mutate: func(r *Request) { r.OfficialEmail = "nope" }, cert: pdf(), wantErr: ErrValidation},
		{
			name:    "pending email",
			seed:    func(s *memStore) { s.seedRequest(Request{OfficialEmail: "admin@stmarys.example"}) },
			cert:    pdf(),
			wantErr: ErrPendingEmail,
		},
		{
			name:    "registered email",
			seed:    func(s *memStore) { s.seedHospital(Hospital{OfficialEmail: "admin@stmarys.example"}) },
			cert:    pdf(),
			wantErr: ErrAlreadyRegistered,
		},
		{
			name:    "pending registration number",
			seed:    func(s *memStore) { s.seedRequest(Request{OfficialEmail: "x@example.com", RegistrationNumber: "REG-1"}) },
			cert:    pdf(),
			wantErr: ErrPendingRegistrationNumber,
		},
		{
			name:    "registered phone",
			seed:    func(s *memStore) { s.seedHospital(Hospital{OfficialEmail: "x@example.com", OfficialPhone: "+1-555-0100"}) },
			cert:    pdf(),
			wantErr: ErrPhoneRegistered,
		},
		{name: "no consent", mutate: func(r *Request) { r.ConsentGiven = false }, cert: pdf(), wantErr: ErrConsentRequired},
		{
			name:    "wrong file type",
			cert:    &Certificate{ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc")},
			wantErr: blobstore.ErrInvalidContentType,
		},
		{
			name:    "file too large",
			cert:    &Certificate{ContentType: "image/png", Size: blobstore.MaxCertificateSize + 1, Body: strings.NewReader("x")},
			wantErr: blobstore.ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.seed != nil {
				tt.seed(store)
			}
			before := len(store.requests)
			req := newRegistration()
			if tt.mutate != nil {
				tt.mutate(req)
			}

			_, err := newTestService(store, blobstore.NewMemoryStore()).Register(context.Background(), req, tt.cert)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Len(t, store.requests, before, "no request row should be left behind")
		})
	}
}

func TestService_RegisterRemovesRequestWhenUploadFails(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, failingStore{blobstore.NewMemoryStore()})

	_, err := svc.Register(context.Background(), newRegistration(), pdf())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, store.requests)
}

func TestService_ListRequests(t *testing.T) {
	store := newMemStore()
	store.seedRequest(Request{HospitalName: "A"})
	store.seedRequest(Request{HospitalName: "B", RequestStatus: StatusRejected})
	svc := newTestService(store, blobstore.NewMemoryStore())
	ctx := context.Background()

	items, total, err := svc.ListRequests(ctx, "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "A", items[0].HospitalName)

	items, _, err = svc.ListRequests(ctx, "rejected", 20, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].HospitalName)

	_, _, err = svc.ListRequests(ctx, "archived", 20, 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestService_ListPendingSignsLinks(t *testing.T) {
	store := newMemStore()
	key := "hospitals/pending/x/registration_certificate.pdf"
	store.seedRequest(Request{HospitalName: "A", RegistrationCertificateURL: &key})
	store.seedRequest(Request{HospitalName: "B"})
	svc := newTestService(store, blobstore.NewMemoryStore())

	views, total, err := svc.ListPending(context.Background(), 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, v := range views {
		if v.HospitalName == "A" {
			require.NotNil(t, v.CertificateViewURL)
			assert.Contains(t, *v.CertificateViewURL, key)
		} else {
			assert.Nil(t, v.CertificateViewURL)
		}
	}

	svc.signer = stubSigner{err: errors.New("no key")}
	views, _, err = svc.ListPending(context.Background(), 20, 0)
	require.NoError(t, err)
	for _, v := range views {
		assert.Nil(t, v.CertificateViewURL)
	}
}

func TestService_LinkAuthUser(t *testing.T) {
	store := newMemStore()
	h := store.seedHospital(Hospital{HospitalName: "A"})
	svc := newTestService(store, blobstore.NewMemoryStore())

	require.NoError(t, svc.LinkAuthUser(context.Background(), h.ID.String(), "auth-1"))
	got, err := memHospitals{store}.GetByAuthUser(context.Background(), "auth-1")
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)

	assert.ErrorIs(t, svc.LinkAuthUser(context.Background(), "not-a-uuid", "auth-1"), ErrValidation)
	assert.ErrorIs(t, svc.LinkAuthUser(context.Background(), uuid.NewString(), "auth-1"), ErrHospitalNotFound)
}

func strp(s string) *string { return &s }

func newAccount() *SettlementAccount {
	return &SettlementAccount{
		AccountHolderName: "St. Mary's Hospital",
		BankName:          "First Bank",
		AccountNumber:     "000123",
		Currency:          "usd",
		Country:           "us",
		SwiftCode:         strp("FRSTUS33"),
	}
}

func TestService_SettlementAccounts(t *testing.T) {
	store := newMemStore()
	authID := "auth-1"
	h := store.seedHospital(Hospital{HospitalName: "A", AuthUserID: &authID})
	svc := newTestService(store, blobstore.NewMemoryStore())
	ctx := context.Background()

	a := newAccount()
	require.NoError(t, svc.AddSettlementAccount(ctx, authID, a))
	assert.Equal(t, h.ID, a.HospitalID)
	assert.Equal(t, VerificationPending, a.VerificationStatus)
	assert.True(t, a.IsPrimary)
	assert.Equal(t, "USD", a.Currency)

	assert.ErrorIs(t, svc.AddSettlementAccount(ctx, authID, newAccount()), ErrAccountExists)

	_, err := svc.UpdateSettlementAccount(ctx, authID, AccountPatch{})
	assert.ErrorIs(t, err, ErrNoFieldsToUpdate)

	updated, err := svc.UpdateSettlementAccount(ctx, authID, AccountPatch{BankName: strp("Second Bank")})
	require.NoError(t, err)
	assert.Equal(t, "Second Bank", updated.BankName)
	assert.Equal(t, "000123", updated.AccountNumber)

	_, err = svc.UpdateSettlementAccount(ctx, authID, AccountPatch{BankName: strp("")})
	assert.ErrorIs(t, err, ErrValidation)

	// Verification freezes the account.
	store.mu.Lock()
	acct := store.accounts[h.ID]
	acct.VerificationStatus = VerificationVerified
	store.accounts[h.ID] = acct
	store.mu.Unlock()

	_, err = svc.UpdateSettlementAccount(ctx, authID, AccountPatch{})
	assert.ErrorIs(t, err, ErrAccountVerified)
}

func TestService_SettlementAccountErrors(t *testing.T) {
	store := newMemStore()
	authID := "auth-1"
	store.seedHospital(Hospital{HospitalName: "A", AuthUserID: &authID})
	svc := newTestService(store, blobstore.NewMemoryStore())
	ctx := context.Background()

	assert.ErrorIs(t, svc.AddSettlementAccount(ctx, "someone-else", newAccount()), ErrHospitalNotFound)
	assert.ErrorIs(t, svc.AddSettlementAccount(ctx, authID, &SettlementAccount{BankName: "x"}), ErrValidation)

	_, err := svc.UpdateSettlementAccount(ctx, authID, AccountPatch{BankName: strp("x")})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
