package users

import (
	"fmt"
	"testing"
	"time"

	"estate-backend/internal/auth"
	"estate-backend/internal/models"
	"estate-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newUsersApp() *fiber.App {
	cfg := testutil.Config()
	app := testutil.NewApp()
	app.Get("/api/agents", AgentDirectoryHandler())

	api := app.Group("/api", auth.JWTMiddleware(cfg))
	api.Get("/users", auth.RequireStaff(), ListUsersHandler())
	api.Get("/users/me/activity", ActivityLogHandler())
	api.Post("/users/me/password", ChangePasswordHandler())
	api.Get("/users/:id", GetUserHandler())
	api.Put("/users/:id", UpdateUserHandler())
	api.Delete("/users/:id", DeleteUserHandler())
	api.Post("/users/:id/verify-email", VerifyEmailHandler())
	api.Post("/users/:id/verify-phone", VerifyPhoneHandler())
	api.Post("/users/:id/licenses/:ref", auth.RequireStaff(), AttachLicenseHandler())
	api.Delete("/users/:id/licenses/:ref", auth.RequireStaff(), DetachLicenseHandler())
	api.Post("/agents/:id/rate", RateAgentHandler())
	api.Get("/favorites", ListFavoritesHandler())
	api.Post("/favorites", CreateFavoriteHandler())
	api.Delete("/favorites/:id", DeleteFavoriteHandler())
	api.Get("/licenses", ListLicensesHandler())
	api.Post("/licenses", auth.RequireStaff(), CreateLicenseHandler())
	return app
}

func TestUserVisibility(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	bob := testutil.CreateUser(t, db, "bob@example.com", models.RoleCustomer)
	agent := testutil.CreateUser(t, db, "agent@example.com", models.RoleAgent)

	status, body := testutil.DoJSON(t, app, "GET", fmt.Sprintf("/api/users/%d", alice.ID), "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Test User", body["full_name"])
	assert.NotContains(t, body, "password_hash")

	status, _ = testutil.Do(t, app, "GET", fmt.Sprintf("/api/users/%d", alice.ID), "", testutil.Bearer(t, bob))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = testutil.Do(t, app, "GET", fmt.Sprintf("/api/users/%d", alice.ID), "", testutil.Bearer(t, agent))
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = testutil.Do(t, app, "GET", "/api/users", "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, list := testutil.DoJSON(t, app, "GET", "/api/users?search=bob", "", testutil.Bearer(t, agent))
	assert.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, list["count"])
}

func TestUpdateUserAdminFields(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	admin := testutil.CreateUser(t, db, "admin@example.com", models.RoleAdmin)
	path := fmt.Sprintf("/api/users/%d", alice.ID)

	status, body := testutil.DoJSON(t, app, "PUT", path, `{"first_name":"Alice","bio":"hello"}`, testutil.Bearer(t, alice))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Alice User", body["full_name"])

	status, _ = testutil.Do(t, app, "PUT", path, `{"role":"admin"}`, testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = testutil.DoJSON(t, app, "PUT", path, `{"role":"agent","is_active":false}`, testutil.Bearer(t, admin))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "agent", body["role"])
	assert.Equal(t, true, body["is_staff"])
	assert.Equal(t, false, body["is_active"])

	var n int64
	db.Model(&models.UserActivityLog{}).Where("user_id = ? AND action = ?", alice.ID, models.ActivityProfileUpdate).Count(&n)
	assert.EqualValues(t, 2, n)
}

func TestCustomerCannotJoinAgency(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	admin := testutil.CreateUser(t, db, "admin@example.com", models.RoleAdmin)
	agency := models.Agency{Name: "Acme Realty"}
	require.NoError(t, db.Create(&agency).Error)

	status, _ := testutil.Do(t, app, "PUT", fmt.Sprintf("/api/users/%d", alice.ID),
		fmt.Sprintf(`{"agency_id":%d}`, agency.ID), testutil.Bearer(t, admin))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestVerifyEmailAndPhone(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)

	status, _ := testutil.Do(t, app, "POST", fmt.Sprintf("/api/users/%d/verify-phone", alice.ID), "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", fmt.Sprintf("/api/users/%d/verify-email", alice.ID), "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusOK, status)

	var u models.User
	require.NoError(t, db.First(&u, alice.ID).Error)
	assert.True(t, u.EmailVerified)
	assert.NotNil(t, u.EmailVerifiedAt)
}

func TestChangePassword(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	tok := testutil.Bearer(t, alice)

	status, _ := testutil.Do(t, app, "POST", "/api/users/me/password", `{"old_password":"wrong","new_password":"newpassword1"}`, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", "/api/users/me/password", `{"old_password":"password123","new_password":"newpassword1"}`, tok)
	require.Equal(t, fiber.StatusOK, status)

	status, list := testutil.DoJSON(t, app, "GET", "/api/users/me/activity?action=password_change", "", tok)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, list["count"])
}

func TestActivityLogOfOthersNeedsStaff(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	bob := testutil.CreateUser(t, db, "bob@example.com", models.RoleCustomer)
	staff := testutil.CreateUser(t, db, "staff@example.com", models.RoleAgencyStaff)

	status, _ := testutil.Do(t, app, "GET", fmt.Sprintf("/api/users/me/activity?user_id=%d", bob.ID), "", testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = testutil.Do(t, app, "GET", fmt.Sprintf("/api/users/me/activity?user_id=%d", bob.ID), "", testutil.Bearer(t, staff))
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRateAgentRunningAverage(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	agent := testutil.CreateUser(t, db, "agent@example.com", models.RoleAgent)
	path := fmt.Sprintf("/api/agents/%d/rate", agent.ID)

	for _, score := range []string{"5", "4"} {
		status, _ := testutil.Do(t, app, "POST", path, `{"score":`+score+`}`, testutil.Bearer(t, alice))
		require.Equal(t, fiber.StatusOK, status)
	}

	var u models.User
	require.NoError(t, db.First(&u, agent.ID).Error)
	assert.Equal(t, 2, u.ReviewsCount)
	assert.True(t, u.Rating.Decimal.Equal(decimal.RequireFromString("4.5")), u.Rating.Decimal.String())

	status, _ := testutil.Do(t, app, "POST", path, `{"score":9}`, testutil.Bearer(t, alice))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", path, `{"score":3}`, testutil.Bearer(t, agent))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", fmt.Sprintf("/api/agents/%d/rate", alice.ID), `{"score":3}`, testutil.Bearer(t, agent))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAgentDirectory(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	agency := models.Agency{Name: "Acme Realty"}
	require.NoError(t, db.Create(&agency).Error)
	a1 := testutil.CreateUser(t, db, "a1@example.com", models.RoleAgent)
	a2 := testutil.CreateUser(t, db, "a2@example.com", models.RoleAgent)
	testutil.CreateUser(t, db, "c@example.com", models.RoleCustomer)
	require.NoError(t, db.Model(a2).Update("agency_id", agency.ID).Error)
	require.NoError(t, db.Model(a1).UpdateColumn("is_active", false).Error)

	status, body := testutil.DoJSON(t, app, "GET", "/api/agents", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = testutil.DoJSON(t, app, "GET", fmt.Sprintf("/api/agents?agency_id=%d", agency.ID+1), "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])
}

func TestFavoritesExactlyOneTarget(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	agent := testutil.CreateUser(t, db, "agent@example.com", models.RoleAgent)
	prop := testutil.CreateProperty(t, db, agent.ID, models.ListingSale)
	tok := testutil.Bearer(t, alice)

	status, _ := testutil.Do(t, app, "POST", "/api/favorites", `{}`, tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = testutil.Do(t, app, "POST", "/api/favorites",
		fmt.Sprintf(`{"property_id":%d,"agent_id":%d}`, prop.ID, agent.ID), tok)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, fav := testutil.DoJSON(t, app, "POST", "/api/favorites", fmt.Sprintf(`{"property_id":%d}`, prop.ID), tok)
	require.Equal(t, fiber.StatusCreated, status)

	status, _ = testutil.Do(t, app, "POST", "/api/favorites", fmt.Sprintf(`{"property_id":%d}`, prop.ID), tok)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = testutil.Do(t, app, "POST", "/api/favorites", `{"search_parameters":{"city":"Harare"}}`, tok)
	require.Equal(t, fiber.StatusCreated, status)

	status, list := testutil.DoList(t, app, "GET", "/api/favorites?kind=search", "", tok)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, list, 1)

	status, _ = testutil.Do(t, app, "DELETE", fmt.Sprintf("/api/favorites/%v", fav["id"]), "", testutil.Bearer(t, agent))
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = testutil.Do(t, app, "DELETE", fmt.Sprintf("/api/favorites/%v", fav["id"]), "", tok)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestLicensesAttachAndActive(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	staff := testutil.CreateUser(t, db, "staff@example.com", models.RoleAgencyStaff)
	agent := testutil.CreateUser(t, db, "agent@example.com", models.RoleAgent)
	tok := testutil.Bearer(t, staff)

	future := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	past := time.Now().AddDate(-1, 0, 0).Format("2006-01-02")

	status, valid := testutil.DoJSON(t, app, "POST", "/api/licenses",
		`{"number":"ZW-1","type":"sales","state":"Harare","expiry_date":"`+future+`"}`, tok)
	require.Equal(t, fiber.StatusCreated, status)
	status, expired := testutil.DoJSON(t, app, "POST", "/api/licenses",
		`{"number":"ZW-2","type":"broker","state":"Harare","expiry_date":"`+past+`"}`, tok)
	require.Equal(t, fiber.StatusCreated, status)

	for _, l := range []map[string]any{valid, expired} {
		status, _ = testutil.Do(t, app, "POST", fmt.Sprintf("/api/users/%d/licenses/%v", agent.ID, l["id"]), "", tok)
		require.Equal(t, fiber.StatusOK, status)
	}

	status, body := testutil.DoJSON(t, app, "GET", fmt.Sprintf("/api/users/%d", agent.ID), "", tok)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["licenses"], 2)
	assert.Len(t, body["active_licenses"], 1)

	status, list := testutil.DoList(t, app, "GET", "/api/licenses?active=true", "", tok)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, list, 1)

	status, _ = testutil.Do(t, app, "DELETE", fmt.Sprintf("/api/users/%d/licenses/%v", agent.ID, expired["id"]), "", tok)
	require.Equal(t, fiber.StatusOK, status)
	var count int64
	db.Table("user_licenses").Where("user_id = ?", agent.ID).Count(&count)
	assert.EqualValues(t, 1, count)

	status, _ = testutil.Do(t, app, "POST", fmt.Sprintf("/api/users/%d/licenses/%v", staff.ID, valid["id"]), "", tok)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestDeleteUserRemovesOwnRows(t *testing.T) {
	db := testutil.SetupDB(t)
	app := newUsersApp()
	alice := testutil.CreateUser(t, db, "alice@example.com", models.RoleCustomer)
	require.NoError(t, db.Create(&models.UserActivityLog{UserID: alice.ID, Action: models.ActivityLogin}).Error)

	status, _ := testutil.Do(t, app, "DELETE", fmt.Sprintf("/api/users/%d", alice.ID), "", testutil.Bearer(t, alice))
	require.Equal(t, fiber.StatusNoContent, status)

	err := db.First(&models.User{}, alice.ID).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
