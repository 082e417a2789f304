// Package server assembles the fiber app: middleware, public routes and the
// JWT-protected API.
package server

import (
	"strings"

	"estate-backend/internal/agencies"
	"estate-backend/internal/apperr"
	"estate-backend/internal/audit"
	"estate-backend/internal/auth"
	"estate-backend/internal/billing"
	"estate-backend/internal/cache"
	"estate-backend/internal/config"
	"estate-backend/internal/contracts"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/metrics"
	"estate-backend/internal/models"
	"estate-backend/internal/payments"
	"estate-backend/internal/properties"
	"estate-backend/internal/reports"
	"estate-backend/internal/tasks"
	"estate-backend/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the long-lived services the handlers close over.
type Deps struct {
	Cache     *cache.Cache
	Payments  *payments.Service
	Store     properties.Store
	Publisher tasks.Publisher
}

const bodyLimit = 512 * 1024 * 1024

// New builds the app. Public routes are registered before the /api group so the
// group's JWT middleware never sees them.
func New(cfg *config.Config, d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: apperr.Handler,
		BodyLimit:    bodyLimit,
	})

	origins := strings.Split(cfg.CORSOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))
	app.Use(logger.RequestLogger())
	app.Use(metrics.Middleware())
	app.Use(auth.TouchActivity())

	app.Get("/healthz", healthHandler())
	app.Get("/metrics", metrics.Handler())
	app.Static("/media", cfg.MediaRoot)

	registerPublic(app, cfg, d)

	api := app.Group("/api", auth.JWTMiddleware(cfg))
	registerAccount(api, cfg, d)
	registerDirectory(api)
	registerListings(api, d)
	registerContracts(api, d)
	registerPayments(api, d)
	registerAdmin(api, d)
	return app
}

func healthHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sqlDB, err := database.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			logger.FromCtx(c).WithError(err).Warn("health check failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

func registerPublic(app *fiber.App, cfg *config.Config, d Deps) {
	app.Post("/api/auth/register", auth.RegisterHandler(cfg, d.Publisher))
	app.Get("/api/auth/verify-email", auth.VerifyEmailTokenHandler(cfg))
	app.Post("/api/auth/login", auth.LoginHandler(cfg))
	app.Post("/api/auth/refresh", auth.RefreshHandler(cfg))

	app.Get("/api/properties", properties.ListPropertiesHandler(d.Cache))
	app.Get("/api/properties/:id", auth.OptionalJWT(cfg), properties.GetPropertyHandler())
	app.Get("/api/properties/:id/places", properties.ListPropertyPlacesHandler())
	app.Get("/api/places", properties.ListPlacesHandler())

	app.Get("/api/agents", users.AgentDirectoryHandler())
	app.Get("/api/agencies", agencies.ListAgenciesHandler())
	app.Get("/api/agencies/:id", agencies.GetAgencyHandler())
	app.Get("/api/agencies/:id/agent-count", agencies.AgentCountHandler())
	app.Get("/api/specializations", users.ListSpecializationsHandler())

	app.Get("/api/payments/integrations", payments.ListIntegrationsHandler(d.Cache))
	app.Post("/api/payments/webhook/paynow", payments.WebhookHandler(d.Payments))
}

func registerAccount(api fiber.Router, cfg *config.Config, d Deps) {
	api.Post("/auth/logout", auth.LogoutHandler())
	api.Get("/auth/me", auth.MeHandler())
	api.Post("/auth/verify-email/resend", auth.ResendVerificationHandler(cfg, d.Publisher))

	api.Get("/users", auth.RequireStaff(), users.ListUsersHandler())
	api.Get("/users/me", auth.MeHandler())
	api.Get("/users/me/activity", users.ActivityLogHandler())
	api.Post("/users/me/password", users.ChangePasswordHandler())
	api.Get("/users/:id", users.GetUserHandler())
	api.Put("/users/:id", users.UpdateUserHandler())
	api.Delete("/users/:id", users.DeleteUserHandler())
	api.Post("/users/:id/verify-email", users.VerifyEmailHandler())
	api.Post("/users/:id/verify-phone", users.VerifyPhoneHandler())

	api.Get("/favorites", users.ListFavoritesHandler())
	api.Post("/favorites", users.CreateFavoriteHandler())
	api.Delete("/favorites/:id", users.DeleteFavoriteHandler())
}

func registerDirectory(api fiber.Router) {
	admin := auth.RequireRole(models.RoleAdmin)
	staff := auth.RequireStaff()

	api.Post("/agents/:id/rate", users.RateAgentHandler())

	api.Post("/agencies", admin, agencies.CreateAgencyHandler())
	api.Put("/agencies/:id", agencies.UpdateAgencyHandler())
	api.Delete("/agencies/:id", admin, agencies.DeleteAgencyHandler())
	api.Post("/agencies/:id/verify", admin, agencies.VerifyAgencyHandler())
	api.Get("/agencies/:id/members", agencies.ListMembersHandler())
	api.Post("/agencies/:id/members", agencies.AddMemberHandler())
	api.Delete("/agencies/:id/members/:userId", agencies.RemoveMemberHandler())

	api.Get("/licenses", users.ListLicensesHandler())
	api.Post("/licenses", staff, users.CreateLicenseHandler())
	api.Put("/licenses/:id", staff, users.UpdateLicenseHandler())
	api.Delete("/licenses/:id", staff, users.DeleteLicenseHandler())
	api.Post("/specializations", staff, users.CreateSpecializationHandler())
	api.Delete("/specializations/:id", staff, users.DeleteSpecializationHandler())
	api.Post("/users/:id/licenses/:ref", staff, users.AttachLicenseHandler())
	api.Delete("/users/:id/licenses/:ref", staff, users.DetachLicenseHandler())
	api.Post("/users/:id/specializations/:ref", staff, users.AttachSpecializationHandler())
	api.Delete("/users/:id/specializations/:ref", staff, users.DetachSpecializationHandler())
}

func registerListings(api fiber.Router, d Deps) {
	staff := auth.RequireStaff()

	api.Post("/properties", properties.CreatePropertyHandler(d.Cache))
	api.Put("/properties/:id", properties.UpdatePropertyHandler(d.Cache))
	api.Delete("/properties/:id", properties.DeletePropertyHandler(d.Cache, d.Store))

	api.Post("/properties/:id/images", properties.UploadImageHandler(d.Cache, d.Store, d.Publisher))
	api.Post("/properties/:id/images/:imageId/primary", properties.SetPrimaryImageHandler(d.Cache))
	api.Delete("/properties/:id/images/:imageId", properties.DeleteImageHandler(d.Cache, d.Store))
	api.Post("/properties/:id/videos", properties.UploadVideoHandler(d.Store, d.Publisher))
	api.Delete("/properties/:id/videos/:videoId", properties.DeleteVideoHandler(d.Store))

	api.Post("/properties/:id/places", properties.AttachPlaceHandler(d.Cache))
	api.Delete("/properties/:id/places/:placeId", properties.DetachPlaceHandler(d.Cache))
	api.Post("/places", staff, properties.CreatePlaceHandler())
	api.Put("/places/:id", staff, properties.UpdatePlaceHandler(d.Cache))
	api.Delete("/places/:id", staff, properties.DeletePlaceHandler(d.Cache))

	api.Post("/properties/:id/interest", properties.ExpressInterestHandler())
	api.Delete("/properties/:id/interest", properties.WithdrawInterestHandler())
	api.Get("/properties/:id/interests", properties.ListInterestsHandler())
}

func registerContracts(api fiber.Router, d Deps) {
	api.Post("/contracts/rentals", contracts.CreateRentalHandler())
	api.Get("/contracts/rentals", contracts.ListRentalsHandler())
	api.Get("/contracts/rentals/:id", contracts.GetRentalHandler())
	api.Post("/contracts/rentals/:id/terminate", contracts.TerminateRentalHandler())
	api.Post("/contracts/sales", contracts.CreateSaleHandler())
	api.Get("/contracts/sales", contracts.ListSalesHandler())
	api.Get("/contracts/sales/:id", contracts.GetSaleHandler())
	api.Post("/contracts/sales/:id/complete", contracts.CompleteSaleHandler(d.Cache))

	api.Post("/transactions", billing.CreateTransactionHandler())
	api.Get("/transactions", billing.ListMyTransactionsHandler())
	api.Get("/transactions/:id", billing.GetTransactionHandler())
	api.Post("/subscriptions", billing.CreateSubscriptionHandler())
	api.Get("/subscriptions", billing.ListSubscriptionsHandler())
}

func registerPayments(api fiber.Router, d Deps) {
	api.Post("/payments", payments.CreatePaymentHandler(d.Payments))
	api.Get("/payments", payments.ListMyPaymentsHandler())
	api.Get("/payments/:reference", payments.GetPaymentHandler())
	api.Post("/payments/:reference/poll", payments.PollPaymentHandler(d.Payments))
	api.Get("/payments/:reference/receipt", payments.ReceiptHandler())
}

func registerAdmin(api fiber.Router, d Deps) {
	admin := api.Group("/admin", auth.RequireStaff())
	admin.Post("/payments/integrations", auth.RequireRole(models.RoleAdmin), payments.CreateIntegrationHandler(d.Cache))
	admin.Put("/payments/integrations/:id", auth.RequireRole(models.RoleAdmin), payments.UpdateIntegrationHandler(d.Cache))
	admin.Get("/payments/export", reports.ExportPaymentsHandler())
	admin.Get("/transactions", billing.ListAllTransactionsHandler())
	admin.Get("/transactions/export", reports.ExportTransactionsHandler())
	admin.Get("/reports/summary", reports.SummaryHandler())
	admin.Post("/properties/import", properties.ImportHandler(d.Cache))

	api.Get("/audit-logs", auth.RequireStaff(), audit.ListAuditLogsHandler())
	api.Post("/audit-logs/:id/undo", auth.RequireStaff(), audit.UndoAuditLogHandler())
}
