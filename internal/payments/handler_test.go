package payments

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/models"
	"estate-backend/internal/paynow"
	"estate-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentsApp(f *fixture) *fiber.App {
	cfg := testutil.Config()
	c := cache.New("")
	app := testutil.NewApp()
	app.Get("/api/payments/integrations", ListIntegrationsHandler(c))
	app.Post("/api/payments/webhook/paynow", WebhookHandler(f.svc))

	protected := app.Group("/api/payments", auth.JWTMiddleware(cfg))
	protected.Post("/", CreatePaymentHandler(f.svc))
	protected.Get("/:reference", GetPaymentHandler())
	protected.Get("/:reference/receipt", ReceiptHandler())
	protected.Post("/:reference/poll", PollPaymentHandler(f.svc))
	return app
}

func bearer(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := auth.GenerateToken(testutil.Secret, u, auth.TokenAccess, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func doReq(t *testing.T, app *fiber.App, method, path, body, contentType, authz string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestCreatePaymentEndpoint(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)

	status, body := doReq(t, app, "POST", "/api/payments/",
		`{"integration_id":`+jsonNum(f.integration.ID)+`,"amount":"25.00"}`, "application/json", bearer(t, f.user))
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Payment initiated successfully", body["message"])

	payment := body["payment"].(map[string]any)
	assert.Equal(t, "Sent", payment["status"])
	assert.Equal(t, true, payment["is_redirectable"])
	assert.Equal(t, true, payment["is_pollable"])
	integration := payment["integration"].(map[string]any)
	assert.NotContains(t, integration, "integration_key")
}

func TestWebhookEndpoint(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	p := f.create(t, CreateInput{})
	const form = "application/x-www-form-urlencoded"

	status, _ := doReq(t, app, "POST", "/api/payments/webhook/paynow", "reference=x&status=Paid", form, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	bad := statusFields(p, "not-the-key", "Paid", "50.00").Encode()
	status, _ = doReq(t, app, "POST", "/api/payments/webhook/paynow", bad, form, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	good := statusFields(p, f.integration.IntegrationKey, "Paid", "50.00").Encode()
	status, body := doReq(t, app, "POST", "/api/payments/webhook/paynow", good, form, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Paid", body["status"])

	status, body = doReq(t, app, "GET", "/api/payments/"+p.Reference.String()+"/receipt", "", "", bearer(t, f.user))
	assert.Equal(t, fiber.StatusOK, status)
	receipt := body["receipt"].(map[string]any)
	assert.Equal(t, "buyer@example.com", receipt["customer_email"])
}

func TestPaymentVisibleOnlyToOwnerOrStaff(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	p := f.create(t, CreateInput{})
	other := testutil.CreateUser(t, f.db, "other@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, f.db, "staff@example.com", models.RoleAdmin)

	status, _ := doReq(t, app, "GET", "/api/payments/"+p.Reference.String(), "", "", bearer(t, other))
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = doReq(t, app, "GET", "/api/payments/"+p.Reference.String(), "", "", bearer(t, staff))
	assert.Equal(t, fiber.StatusOK, status)
}

func TestListIntegrationsHidesInactiveAndSecrets(t *testing.T) {
	f := setup(t)
	inactive := testutil.CreateIntegration(t, f.db, "Old")
	require.NoError(t, f.db.Model(inactive).Update("is_active", false).Error)
	app := newPaymentsApp(f)

	req := httptest.NewRequest("GET", "/api/payments/integrations", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Paynow USD", list[0]["name"])
	assert.NotContains(t, list[0], "integration_key")
	assert.NotContains(t, list[0], "integration_id")
}

func jsonNum(n uint) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCreatePaymentChecksContractLinks(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	owner := testutil.CreateUser(t, f.db, "owner@example.com", models.RoleCustomer)
	other := testutil.CreateUser(t, f.db, "other@example.com", models.RoleCustomer)
	prop := testutil.CreateProperty(t, f.db, owner.ID, models.ListingRent)
	otherProp := testutil.CreateProperty(t, f.db, owner.ID, models.ListingRent)

	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	rc := &models.RentalContract{
		PropertyID:      prop.ID,
		TenantID:        f.user.ID,
		StartDate:       start,
		EndDate:         start.AddDate(1, 0, 0),
		MonthlyRent:     decimal.NewFromInt(800),
		SecurityDeposit: decimal.NewFromInt(800),
		IsActive:        true,
	}
	require.NoError(t, f.db.Omit("Property", "Tenant").Create(rc).Error)
	sc := &models.SaleContract{PropertyID: prop.ID, BuyerID: f.user.ID, SalePrice: decimal.NewFromInt(90000)}
	require.NoError(t, f.db.Omit("Property", "Buyer").Create(sc).Error)

	base := `{"integration_id":` + jsonNum(f.integration.ID) + `,"amount":"800.00","transaction_type":"rent"`

	status, _ := doReq(t, app, "POST", "/api/payments/", base+`,"rental_contract_id":9999}`, "application/json", bearer(t, f.user))
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doReq(t, app, "POST", "/api/payments/", base+`,"sale_contract_id":9999}`, "application/json", bearer(t, f.user))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doReq(t, app, "POST", "/api/payments/", base+`,"rental_contract_id":`+jsonNum(rc.ID)+`}`, "application/json", bearer(t, other))
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = doReq(t, app, "POST", "/api/payments/", base+`,"sale_contract_id":`+jsonNum(sc.ID)+`}`, "application/json", bearer(t, other))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = doReq(t, app, "POST", "/api/payments/",
		base+`,"rental_contract_id":`+jsonNum(rc.ID)+`,"property_id":`+jsonNum(otherProp.ID)+`}`, "application/json", bearer(t, f.user))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := doReq(t, app, "POST", "/api/payments/", base+`,"rental_contract_id":`+jsonNum(rc.ID)+`}`, "application/json", bearer(t, f.user))
	require.Equal(t, fiber.StatusCreated, status)
	payment := body["payment"].(map[string]any)
	assert.EqualValues(t, prop.ID, payment["property_id"])

	// the landlord may pay against the lease too
	status, _ = doReq(t, app, "POST", "/api/payments/", base+`,"rental_contract_id":`+jsonNum(rc.ID)+`}`, "application/json", bearer(t, owner))
	assert.Equal(t, fiber.StatusCreated, status)

	var n int64
	f.db.Model(&models.Payment{}).Count(&n)
	assert.EqualValues(t, 2, n)
}

func TestPollEndpointAppliesGatewayStatus(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	p := f.create(t, CreateInput{})
	f.gw.poll, _ = paynow.ParseStatusUpdate(statusFields(p, f.integration.IntegrationKey, "Paid", "50.00"))

	other := testutil.CreateUser(t, f.db, "other@example.com", models.RoleCustomer)
	status, _ := doReq(t, app, "POST", "/api/payments/"+p.Reference.String()+"/poll", "", "", bearer(t, other))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := doReq(t, app, "POST", "/api/payments/"+p.Reference.String()+"/poll", "", "", bearer(t, f.user))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, "Paid", body["payment"].(map[string]any)["status"])

	status, body = doReq(t, app, "POST", "/api/payments/"+p.Reference.String()+"/poll", "", "", bearer(t, f.user))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["changed"])
}

func TestPollEndpointGatewayFailure(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	p := f.create(t, CreateInput{})
	f.gw.pollErr = &paynow.TransportError{Err: io.ErrUnexpectedEOF}

	status, _ := doReq(t, app, "POST", "/api/payments/"+p.Reference.String()+"/poll", "", "", bearer(t, f.user))
	assert.Equal(t, fiber.StatusBadGateway, status)
}

func TestReceiptUnavailableUntilPaid(t *testing.T) {
	f := setup(t)
	app := newPaymentsApp(f)
	p := f.create(t, CreateInput{})

	status, body := doReq(t, app, "GET", "/api/payments/"+p.Reference.String()+"/receipt", "", "", bearer(t, f.user))
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body["error"], "not paid")

	var n int64
	f.db.Model(&models.Receipt{}).Count(&n)
	assert.Zero(t, n)
}
