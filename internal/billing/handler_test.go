package billing

import (
	"fmt"
	"testing"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/models"
	"estate-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newBillingApp(t *testing.T) (*gorm.DB, *fiber.App) {
	t.Helper()
	db := testutil.SetupDB(t)
	app := testutil.NewApp()
	api := app.Group("/api", auth.JWTMiddleware(testutil.Config()))
	api.Post("/transactions", CreateTransactionHandler())
	api.Get("/transactions", ListMyTransactionsHandler())
	api.Get("/transactions/:id", GetTransactionHandler())
	api.Get("/admin/transactions", auth.RequireStaff(), ListAllTransactionsHandler())
	api.Post("/subscriptions", CreateSubscriptionHandler())
	api.Get("/subscriptions", ListSubscriptionsHandler())
	return db, app
}

func TestTransactions(t *testing.T) {
	db, app := newBillingApp(t)
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	bob := testutil.CreateUser(t, db, "bob@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, db, "staff@example.com", models.RoleAgencyStaff)
	p := testutil.CreateProperty(t, db, alice.ID, models.ListingSale)

	body := fmt.Sprintf(`{"transaction_type":"viewing","amount":"50","property_id":%d,"payment_id":"PN-001"}`, p.ID)
	status, tx := testutil.DoJSON(t, app, "POST", "/api/transactions", body, testutil.Bearer(t, bob))
	require.Equal(t, fiber.StatusCreated, status, tx)
	assert.Equal(t, "Viewing Fee", tx["transaction_type_display"])
	assert.EqualValues(t, bob.ID, tx["user_id"])

	status, _ = testutil.Do(t, app, "POST", "/api/transactions", body, testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = testutil.Do(t, app, "POST", "/api/transactions", `{"transaction_type":"tip","amount":"5","payment_id":"PN-002"}`, testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = testutil.Do(t, app, "POST", "/api/transactions", `{"transaction_type":"admin","amount":"0","payment_id":"PN-003"}`, testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = testutil.Do(t, app, "POST", "/api/transactions", `{"transaction_type":"rent","amount":"10","rental_contract_id":404,"payment_id":"PN-004"}`, testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", "/api/transactions", `{"transaction_type":"admin","amount":"12.5","payment_id":"PN-005"}`, testutil.Bearer(t, alice))
	require.Equal(t, fiber.StatusCreated, status)

	_, page := testutil.DoJSON(t, app, "GET", "/api/transactions", "", testutil.Bearer(t, bob))
	assert.EqualValues(t, 1, page["count"])

	path := fmt.Sprintf("/api/transactions/%v", tx["id"])
	status, _ = testutil.Do(t, app, "GET", path, "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = testutil.Do(t, app, "GET", path, "", testutil.Bearer(t, staff))
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = testutil.Do(t, app, "GET", "/api/admin/transactions", "", testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusForbidden, status)

	_, page = testutil.DoJSON(t, app, "GET", "/api/admin/transactions", "", testutil.Bearer(t, staff))
	assert.EqualValues(t, 2, page["count"])
	_, page = testutil.DoJSON(t, app, "GET", "/api/admin/transactions?transaction_type=admin", "", testutil.Bearer(t, staff))
	assert.EqualValues(t, 1, page["count"])
	_, page = testutil.DoJSON(t, app, "GET", fmt.Sprintf("/api/admin/transactions?user_id=%d", bob.ID), "", testutil.Bearer(t, staff))
	assert.EqualValues(t, 1, page["count"])

	today := time.Now().Format("2006-01-02")
	_, page = testutil.DoJSON(t, app, "GET", "/api/admin/transactions?from="+today+"&to="+today, "", testutil.Bearer(t, staff))
	assert.EqualValues(t, 2, page["count"])
	status, _ = testutil.Do(t, app, "GET", "/api/admin/transactions?from=yesterday", "", testutil.Bearer(t, staff))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSubscriptions(t *testing.T) {
	db, app := newBillingApp(t)
	owner := testutil.CreateUser(t, db, "owner@example.com", models.RoleCustomer)
	user := testutil.CreateUser(t, db, "user@example.com", models.RoleCustomer)
	p := testutil.CreateProperty(t, db, owner.ID, models.ListingRent)
	tok := testutil.Bearer(t, user)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	status, _ := testutil.Do(t, app, "POST", "/api/subscriptions",
		fmt.Sprintf(`{"property_id":%d,"service_type":"viewing","valid_until":%q}`, p.ID, past), tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	week := time.Now().UTC().Add(7 * 24 * time.Hour).Format(time.RFC3339)
	status, sub := testutil.DoJSON(t, app, "POST", "/api/subscriptions",
		fmt.Sprintf(`{"property_id":%d,"service_type":"viewing","valid_until":%q}`, p.ID, week), tok)
	require.Equal(t, fiber.StatusCreated, status, sub)
	assert.Equal(t, true, sub["is_active"])

	month := time.Now().UTC().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	status, renewed := testutil.DoJSON(t, app, "POST", "/api/subscriptions",
		fmt.Sprintf(`{"property_id":%d,"service_type":"viewing","valid_until":%q}`, p.ID, month), tok)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, sub["id"], renewed["id"])

	// an expired subscription for another service
	require.NoError(t, db.Create(&models.ServiceSubscription{
		UserID: user.ID, PropertyID: p.ID, ServiceType: models.ServiceRental,
		ValidUntil: time.Now().Add(-48 * time.Hour),
	}).Error)

	status, list := testutil.DoList(t, app, "GET", "/api/subscriptions", "", tok)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, list, 2)
	assert.Equal(t, true, list[0]["is_active"])
	assert.Equal(t, false, list[1]["is_active"])

	_, list = testutil.DoList(t, app, "GET", "/api/subscriptions?active=true", "", tok)
	assert.Len(t, list, 1)

	_, list = testutil.DoList(t, app, "GET", "/api/subscriptions", "", testutil.Bearer(t, owner))
	assert.Empty(t, list)
}
