package api

import (
	"studiobook/db"
	"studiobook/service/admin"
	"studiobook/service/ledger"
	"studiobook/service/notify"
	"studiobook/service/paypal"
	"studiobook/service/reconcile"
	"studiobook/service/security"
	"studiobook/service/timetable"
	"studiobook/service/worker"
	"studiobook/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Server struct, holds the router, dependencies and system config
type Server struct {
	// API router
	router *gin.Engine

	// Queries
	queries *db.Queries

	// Dependencies
	config      *util.Config
	jwtService  *security.JWTService
	distributor worker.TaskDistributor
	ledger      *ledger.Service
	admin       *admin.Service
	reconciler  *reconcile.Reconciler
	timetable   *timetable.Service
	limiter     *RateLimiter
}

// Constructor method for server struct.
// verifier may be nil, IPNs are then processed without the PayPal postback.
func NewServer(
	config *util.Config,
	queries *db.Queries,
	jwtService *security.JWTService,
	distributor worker.TaskDistributor,
	notifier *notify.Notifier,
	verifier paypal.Verifier,
) *Server {
	ledgerService := ledger.NewService(queries.DB)
	return &Server{
		router:      gin.Default(),
		queries:     queries,
		config:      config,
		jwtService:  jwtService,
		distributor: distributor,
		ledger:      ledgerService,
		admin:       admin.NewService(queries.DB, ledgerService, notifier, distributor),
		reconciler: reconcile.NewReconciler(queries, notifier, verifier, reconcile.Settings{
			ReceiverEmail: config.PaypalReceiverEmail,
		}),
		timetable: timetable.NewService(queries.DB),
		limiter:   NewRateLimiter(config.RateLimit),
	}
}

// Helper method to register handler for API
func (server *Server) RegisterHandler() {
	server.router.Use(server.CORSMiddleware())

	server.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	server.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := server.router.Group("/api")

	// Payment gateways
	webhook := api.Group("/webhook", server.RateLimitMiddleware())
	{
		webhook.POST("/paypal", server.PaypalWebhook)
		webhook.POST("/stripe", server.StripeWebhook)
	}

	auth := api.Group("/auth", server.RateLimitMiddleware())
	{
		auth.POST("/register", server.Register)
		auth.POST("/login", server.Login)
		auth.POST("/refresh", server.RefreshToken)
	}

	// Public
	api.GET("/events", server.ListEvents)
	api.GET("/events/:slug", server.GetEvent)
	api.GET("/ticket-bookings/:ref/qr", server.TicketQR)

	// Members
	member := api.Group("", server.AuthMiddleware())
	{
		member.GET("/profile", server.GetProfile)

		member.GET("/bookings", server.MyBookings)
		member.POST("/bookings", server.CreateBooking)
		member.DELETE("/bookings/:id", server.CancelBooking)

		member.GET("/blocks", server.MyBlocks)
		member.POST("/blocks", server.CreateBlock)

		member.POST("/ticketed-events/:id/tickets", server.BuyTickets)
		member.DELETE("/ticket-bookings/:id", server.CancelTicketBooking)

		member.GET("/payments/paypal-form", server.PaypalForm)
		member.POST("/payments/stripe", server.CreatePayment)
	}

	// Staff
	staff := api.Group("/admin", server.AuthMiddleware(), server.RequireRole(db.Staff))
	{
		staff.GET("/events", server.AdminListEvents)
		staff.POST("/events", server.CreateEvent)
		staff.PUT("/events/:id", server.UpdateEvent)
		staff.DELETE("/events/:id", server.DeleteEvent)

		staff.GET("/bookings", server.AdminListBookings)
		staff.GET("/blocks", server.AdminListBlocks)
		staff.POST("/blocks/:id/bookings", server.SaveBlockBookings)
		staff.DELETE("/blocks/:id", server.DeleteBlock)

		staff.GET("/ticket-bookings/:ref", server.Checkin)

		staff.POST("/actions", server.RunAction)
		staff.POST("/timetable/upload", server.UploadTimetable)
		staff.POST("/tasks/:name", server.EnqueueTask)
		staff.POST("/payments/refund", server.Refund)
	}
}

// Router with every route registered, used by tests
func (server *Server) Handler() *gin.Engine {
	server.RegisterHandler()
	return server.router
}

// Start server
func (server *Server) Start() error {
	server.RegisterHandler()
	return server.router.Run(":" + server.config.ServerPort)
}

// Error response struct
type ErrorResponse struct {
	Message string `json:"error"`
}

// Success message struct
type SuccessMessage struct {
	Message string `json:"message"`
}
