package server

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"estate-backend/internal/cache"
	"estate-backend/internal/models"
	"estate-backend/internal/payments"
	"estate-backend/internal/paynow"
	"estate-backend/internal/storage"
	"estate-backend/internal/tasks"
	"estate-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T) (*fiber.App, *gorm.DB, *storage.Local) {
	t.Helper()
	db := testutil.SetupDB(t)
	cfg := testutil.Config()
	cfg.CORSOrigins = "http://localhost:5173"
	cfg.MediaRoot = t.TempDir()

	store := storage.NewLocal(cfg.MediaRoot)
	pub := &tasks.Recorder{}
	gw := paynow.NewClient("http://127.0.0.1:1/initiate", "http://127.0.0.1:1/remote")
	app := New(cfg, Deps{
		Cache:     cache.New(""),
		Payments:  payments.NewService(cfg, gw, pub),
		Store:     store,
		Publisher: pub,
	})
	return app, db, store
}

func TestHealthAndMetrics(t *testing.T) {
	app, _, _ := newTestServer(t)

	status, body := testutil.DoJSON(t, app, "GET", "/healthz", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	// one request through the middleware so the counters have samples
	testutil.Do(t, app, "GET", "/api/properties", "", "")
	status, raw := testutil.Do(t, app, "GET", "/metrics", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestPublicRoutesSkipAuth(t *testing.T) {
	app, _, _ := newTestServer(t)

	for _, path := range []string{
		"/api/properties",
		"/api/agents",
		"/api/agencies",
		"/api/places",
		"/api/specializations",
		"/api/payments/integrations",
	} {
		status, _ := testutil.Do(t, app, "GET", path, "", "")
		assert.Equal(t, fiber.StatusOK, status, path)
	}

	status, _ := testutil.Do(t, app, "POST", "/api/payments/webhook/paynow", "", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	// reaches the handler, which rejects the missing token
	status, _ = testutil.Do(t, app, "GET", "/api/auth/verify-email", "", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app, _, _ := newTestServer(t)

	for _, r := range []struct{ method, path string }{
		{"POST", "/api/properties"},
		{"GET", "/api/users/me"},
		{"POST", "/api/auth/verify-email/resend"},
		{"GET", "/api/payments"},
		{"GET", "/api/contracts/rentals"},
		{"GET", "/api/transactions"},
		{"GET", "/api/admin/payments/export"},
	} {
		status, _ := testutil.Do(t, app, r.method, r.path, "", "")
		assert.Equal(t, fiber.StatusUnauthorized, status, r.path)
	}
}

func TestRoleGates(t *testing.T) {
	app, db, _ := newTestServer(t)
	customer := testutil.CreateUser(t, db, "customer@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, db, "staff@example.com", models.RoleAgencyStaff)

	status, body := testutil.DoJSON(t, app, "GET", "/api/users/me", "", testutil.Bearer(t, customer))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "customer@example.com", body["user"].(map[string]any)["email"])

	status, _ = testutil.Do(t, app, "GET", "/api/admin/transactions", "", testutil.Bearer(t, customer))
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = testutil.Do(t, app, "GET", "/api/admin/transactions", "", testutil.Bearer(t, staff))
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = testutil.Do(t, app, "POST", "/api/admin/payments/integrations", `{}`, testutil.Bearer(t, staff))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = testutil.Do(t, app, "GET", "/api/audit-logs", "", testutil.Bearer(t, customer))
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestMediaIsServed(t *testing.T) {
	app, _, store := newTestServer(t)
	rel, err := store.Save("properties/1/images", "front.png", strings.NewReader("pixels"))
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/media/"+rel, nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(raw))
}

func TestCORSPreflight(t *testing.T) {
	app, _, _ := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/properties", nil)
	req.Header.Set(fiber.HeaderOrigin, "http://localhost:5173")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, "POST")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}
