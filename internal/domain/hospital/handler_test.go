package hospital

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/db"
)

type stubResolver map[string]identity.Identity

func (r stubResolver) Resolve(_ context.Context, authUserID string) (identity.Identity, error) {
	if id, ok := r[authUserID]; ok {
		return id, nil
	}
	return identity.Unrecognized(authUserID), nil
}

type handlerFixture struct {
	e     *echo.Echo
	store *memStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := newMemStore()
	svc := newTestService(store, blobstore.NewMemoryStore())
	alloc := NewAllocator(&memTransactor{store: store}, memRequests{store}, memHospitals{store}, &recordingDispatcher{}, zerolog.Nop())
	resolver := stubResolver{"hosp-admin": {Kind: identity.KindHospitalAdmin, AuthUserID: "hosp-admin"}}

	e := echo.New()
	// Stand-in for the JWT middleware.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if user := c.Request().Header.Get("X-Test-User"); user != "" {
				roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
				c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), user, user+"@example.com", roles)))
			}
			return next(c)
		}
	})
	NewHandler(svc, alloc, resolver).RegisterRoutes(e.Group("/api/v1"), e)
	return &handlerFixture{e: e, store: store}
}

func (f *handlerFixture) do(method, target, user, roles string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Roles", roles)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func registrationForm(t *testing.T, withFile bool) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"hospital_name":       "St. Mary's",
		"country":             "US",
		"city":                "Boston",
		"address":             "1 Main St",
		"official_email":      "admin@stmarys.example",
		"official_phone":      "+1-555-0100",
		"registration_number": "REG-1",
		"admin_name":          "Jane Admin",
		"consent_given":       "true",
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if withFile {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="registration_certificate"; filename="cert.pdf"`)
		h.Set("Content-Type", "application/pdf")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestHandler_Register(t *testing.T) {
	f := newHandlerFixture(t)

	body, ct := registrationForm(t, true)
	rec := f.do(http.MethodPost, "/api/v1/hospitals/register", "", "", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	id, err := uuid.Parse(resp["request_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, f.store.request(id).RequestStatus)

	// Same email again while the first is pending.
	body, ct = registrationForm(t, true)
	rec = f.do(http.MethodPost, "/api/v1/hospitals/register", "", "", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrPendingEmail.Error())
}

func TestHandler_RegisterWithoutCertificate(t *testing.T) {
	f := newHandlerFixture(t)
	body, ct := registrationForm(t, false)
	rec := f.do(http.MethodPost, "/api/v1/hospitals/register", "", "", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCertificateRequired.Error())
}

func TestHandler_Approve(t *testing.T) {
	f := newHandlerFixture(t)
	id := f.store.seedRequest(pendingRequest("St. Mary's", "US", "Boston", "a@example.com"))
	target := fmt.Sprintf("/api/v1/admin/hospital-requests/%s/approve", id)

	rec := f.do(http.MethodPost, target, "reviewer-1", auth.RoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "Hospital approved successfully", resp["message"])
	assert.Equal(t, "US-BOS-STM-01", resp["hospital"].(map[string]interface{})["hospital_ref_code"])

	rec = f.do(http.MethodPost, target, "reviewer-1", auth.RoleAdmin, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrNotFoundOrAlreadyProcessed.Error())
}

func TestHandler_ApproveAndRejectAliases(t *testing.T) {
	f := newHandlerFixture(t)
	approveID := f.store.seedRequest(pendingRequest("St. Mary's", "US", "Boston", "a@example.com"))
	rejectID := f.store.seedRequest(pendingRequest("Mercy", "US", "Boston", "b@example.com"))

	rec := f.do(http.MethodPost, "/approve/"+approveID.String(), "reviewer-1", auth.RoleAdmin, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/reject/"+rejectID.String(), "reviewer-1", auth.RoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hospital request rejected successfully", decode(t, rec)["message"])
	assert.Equal(t, StatusRejected, f.store.request(rejectID).RequestStatus)
}

func TestHandler_ReviewErrors(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.seedHospital(Hospital{Country: "US", City: "Boston", HospitalRefCode: "US-BOS-STM-02", OfficialEmail: "old@example.com"})
	exhausted := f.store.seedRequest(pendingRequest("St. Mary's", "US", "Boston", "a@example.com"))
	pending := f.store.seedRequest(pendingRequest("Mercy", "US", "Boston", "b@example.com"))

	tests := []struct {
		name  string
		path  string
		roles string
		want  int
	}{
		{"not an admin", "/api/v1/admin/hospital-requests/" + pending.String() + "/approve", "doctor", http.StatusForbidden},
		{"bad id", "/api/v1/admin/hospital-requests/nope/approve", auth.RoleAdmin, http.StatusBadRequest},
		{"unknown id", "/reject/" + uuid.NewString(), auth.RoleAdmin, http.StatusNotFound},
		{"codes exhausted", "/approve/" + exhausted.String(), auth.RoleAdmin, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, "reviewer-1", tt.roles, nil, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, StatusPending, f.store.request(pending).RequestStatus)
	assert.Equal(t, StatusPending, f.store.request(exhausted).RequestStatus)
}

func TestHandler_ListRequests(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.seedRequest(pendingRequest("St. Mary's", "US", "Boston", "a@example.com"))

	rec := f.do(http.MethodGet, "/api/v1/admin/hospital-requests", "reviewer-1", auth.RoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = f.do(http.MethodGet, "/api/v1/admin/hospital-requests?status=approved", "reviewer-1", auth.RoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, decode(t, rec)["data"])

	rec = f.do(http.MethodGet, "/api/v1/admin/hospital-requests?status=bogus", "reviewer-1", auth.RoleAdmin, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/hospital-requests/pending", "reviewer-1", auth.RoleAdmin, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)
}

func TestHandler_SettlementAccount(t *testing.T) {
	f := newHandlerFixture(t)
	authID := "hosp-admin"
	f.store.seedHospital(Hospital{HospitalName: "St. Mary's", AuthUserID: &authID})
	const path = "/api/v1/hospitals/me/settlement-account"
	body := []byte(`{"account_holder_name":"St. Mary's","bank_name":"First Bank","account_number":"1","currency":"USD","country":"US","verification_status":"verified"}`)

	rec := f.do(http.MethodPost, path, authID, "", body, echo.MIMEApplicationJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, VerificationPending, decode(t, rec)["verification_status"])

	rec = f.do(http.MethodPost, path, authID, "", body, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPut, path, authID, "", []byte(`{}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, path, authID, "", []byte(`{"bank_name":"Second Bank"}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, path, "stranger", "", []byte(`{"bank_name":"x"}`), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), identity.ErrUnrecognized.Error())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: dial", db.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{ErrAccountVerified, http.StatusForbidden},
		{blobstore.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("lock: %w", ErrNotFoundOrAlreadyProcessed), http.StatusNotFound},
		{echo.NewHTTPError(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		var he *echo.HTTPError
		require.True(t, errors.As(mapError(tt.err), &he), "%v", tt.err)
		assert.Equal(t, tt.want, he.Code)
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))
}
