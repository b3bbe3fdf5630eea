package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	// cors handles Cross-Origin Resource Sharing, so the Expo web build can call the
	// API from a different origin
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/config"
	"github.com/trentd187/puckdrop/internal/handlers"
	"github.com/trentd187/puckdrop/internal/metrics"
	"github.com/trentd187/puckdrop/internal/middleware"
	"github.com/trentd187/puckdrop/internal/websocket"
)

// Global roles allowed to create organizations, events and tournaments.
var organizers = []string{"organizer", "admin"}

// newApp builds the Fiber app and registers every route.
func newApp(cfg *config.Config, db *gorm.DB, svc *serviceSet, hub *websocket.Hub, log *zap.Logger, m *metrics.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Puckdrop API",
		// Every handler error goes through here to become a status code + JSON body.
		ErrorHandler: handlers.ErrorHandler(log),
	})

	// --- Global middleware ---
	// These run on every request before any route handler.
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(middleware.Metrics(m))
	// cors.New() allows requests from any origin. The API is bearer-token only, so no
	// cookies ride along with cross-origin requests.
	app.Use(cors.New())

	// --- Public routes (no auth required) ---
	// GET /health is the liveness check used by the load balancer.
	// GET /metrics is scraped by Prometheus; promhttp is a net/http handler, so the
	// adaptor wraps it for Fiber.
	app.Get("/health", handlers.HealthCheck(db))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	v1 := app.Group("/api/v1")

	// Sign-up and login are rate limited per IP against password guessing, each with
	// its own allowance. They are registered before the Auth middleware below, and
	// Fiber matches routes in registration order, so these never reach Auth.
	authRoutes := v1.Group("/auth")
	authRoutes.Post("/register", middleware.PerHour(cfg.RateLimit.RegisterPerHour).Limit(), handlers.Register(svc.users))
	authRoutes.Post("/login", middleware.PerMinute(cfg.RateLimit.LoginPerMinute).Limit(), handlers.Login(svc.users))

	// Live bracket updates over WebSocket. The socket handshake cannot carry an
	// Authorization header, so this route authenticates with SocketAuth (which also
	// reads ?token=) and sits ahead of the header-only Auth for the same reason as
	// /auth. Plain HTTP requests get 426; unknown or hidden tournaments get 404
	// before the upgrade.
	v1.Get("/tournaments/:id/live",
		middleware.SocketAuth(svc.tokens),
		websocket.RequireUpgrade(),
		handlers.LiveBracketPrecheck(svc.tournaments),
		websocket.Serve(hub, log),
	)

	// --- Authenticated API routes ---
	// Everything else under /api/v1 needs a valid bearer token.
	api := v1.Use(middleware.Auth(svc.tokens))
	admin := middleware.RequireRole("admin")
	organizer := middleware.RequireRole(organizers...)

	// Users
	api.Get("/users/me", handlers.GetMe(svc.users))
	api.Put("/users/me", handlers.UpdateMe(svc.users))
	api.Put("/users/me/push-token", handlers.SetPushToken(svc.users))
	api.Get("/users", admin, handlers.ListUsers(svc.users))
	api.Put("/users/:id/role", admin, handlers.SetUserRole(svc.users))

	// Organizations
	api.Get("/organizations", handlers.ListOrganizations(svc.orgs))
	api.Post("/organizations", organizer, handlers.CreateOrganization(svc.orgs))
	api.Get("/organizations/:id", handlers.GetOrganization(svc.orgs))
	api.Put("/organizations/:id", handlers.UpdateOrganization(svc.orgs))
	api.Post("/organizations/:id/activate", handlers.SetOrganizationActive(svc.orgs, true))
	api.Post("/organizations/:id/deactivate", handlers.SetOrganizationActive(svc.orgs, false))
	api.Post("/organizations/:id/subscribe", handlers.Subscribe(svc.orgs))
	api.Delete("/organizations/:id/subscribe", handlers.Unsubscribe(svc.orgs))
	api.Get("/organizations/:id/subscribers", handlers.ListSubscribers(svc.orgs))
	api.Get("/organizations/:id/admins", handlers.ListAdmins(svc.orgs))
	api.Post("/organizations/:id/admins", handlers.AddAdmin(svc.orgs))
	api.Delete("/organizations/:id/admins/:userId", handlers.RemoveAdmin(svc.orgs))

	// Events (single games)
	// GET  /events  lists upcoming games; POST creates one (organizer and admin only)
	api.Get("/events", handlers.ListEvents(svc.events))
	api.Post("/events", organizer, handlers.CreateEvent(svc.events))
	api.Get("/events/:id", handlers.GetEvent(svc.events))
	api.Put("/events/:id", handlers.UpdateEvent(svc.events))
	api.Post("/events/:id/cancel", handlers.CancelEvent(svc.events))
	api.Post("/events/:id/complete", handlers.CompleteEvent(svc.events))

	// Registrations, waitlist and payments
	api.Post("/events/:id/register", handlers.RegisterForEvent(svc.registrations))
	api.Get("/events/:id/payment-link", handlers.GetPaymentLink(svc.registrations))
	api.Put("/events/:id/waitlist", handlers.ReorderWaitlist(svc.registrations))
	api.Get("/registrations/me", handlers.MyRegistrations(svc.registrations))
	api.Delete("/registrations/:id", handlers.CancelRegistration(svc.registrations))
	api.Post("/registrations/:id/promote", handlers.PromoteRegistration(svc.registrations))
	api.Post("/registrations/:id/mark-paid", handlers.MarkPaid(svc.registrations))
	api.Post("/registrations/:id/verify-payment", handlers.VerifyPayment(svc.registrations))
	api.Post("/registrations/:id/reset-payment", handlers.ResetPayment(svc.registrations))

	// Rosters (light vs dark)
	api.Get("/events/:id/roster", handlers.GetRoster(svc.rosters))
	api.Put("/events/:id/roster", handlers.AssignTeams(svc.rosters))
	api.Post("/events/:id/roster/balance", handlers.AutoBalanceRoster(svc.rosters))
	api.Post("/events/:id/roster/publish", handlers.PublishRoster(svc.rosters))
	api.Get("/events/:id/roster.xlsx", handlers.ExportRoster(svc.rosters))

	// Tournaments and teams
	api.Get("/tournaments", handlers.ListTournaments(svc.tournaments))
	api.Post("/tournaments", organizer, handlers.CreateTournament(svc.tournaments))
	api.Get("/tournaments/:id", handlers.GetTournament(svc.tournaments))
	api.Put("/tournaments/:id", handlers.UpdateTournament(svc.tournaments))
	api.Post("/tournaments/:id/status", handlers.TransitionTournament(svc.tournaments))
	api.Post("/tournaments/:id/teams", handlers.RegisterTeam(svc.tournaments))
	api.Delete("/tournament-teams/:id", handlers.WithdrawTeam(svc.tournaments))
	api.Post("/tournament-teams/:id/invitations", handlers.InviteMember(svc.tournaments))
	api.Post("/tournament-teams/:id/mark-paid", handlers.MarkTeamPaid(svc.tournaments))
	api.Post("/tournament-teams/:id/verify-payment", handlers.VerifyTeamPayment(svc.tournaments))
	api.Post("/team-members/:id/respond", handlers.RespondInvitation(svc.tournaments))
	api.Delete("/team-members/:id", handlers.RemoveMember(svc.tournaments))
	api.Get("/invitations/me", handlers.MyInvitations(svc.tournaments))

	// Brackets and matches
	api.Put("/tournaments/:id/seeds", handlers.SetSeeds(svc.tournaments))
	api.Post("/tournaments/:id/bracket", handlers.GenerateBracket(svc.tournaments))
	api.Get("/tournaments/:id/bracket", handlers.GetBracket(svc.tournaments))
	api.Put("/matches/:id/schedule", handlers.ScheduleMatch(svc.tournaments))
	api.Post("/matches/:id/result", handlers.RecordResult(svc.tournaments))

	// Notifications
	api.Get("/notifications", handlers.ListNotifications(svc.notifications))
	api.Post("/notifications/read-all", handlers.MarkAllNotificationsRead(svc.notifications))
	api.Post("/notifications/:id/read", handlers.MarkNotificationRead(svc.notifications))

	return app
}
