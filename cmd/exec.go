package cmd

import (
	"context"
	"log"
	"os"
	"strings"

	"evetia/config"
	"evetia/internal/handlers"
	"evetia/internal/services"
	"evetia/monitoring"
	"evetia/security"
	"evetia/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor()
	}

	// Redis is only needed for the notification relay and health checks
	var healthRedis redis.UniversalClient
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, notification relay disabled: %v", err)
	} else {
		defer redisClient.Close()
		healthRedis = redisClient
	}

	// PubNub mirror of the event rooms
	var (
		mirror       services.Publisher
		pubnubMirror *services.PubNubMirror
		pn           *pubnub.PubNub
	)
	if cfg.PubNubEnabled() {
		pn = services.NewPubNub(cfg)
		pubnubMirror = services.NewPubNubMirror(pn, 256)
		mirror = pubnubMirror
	}

	// Initialize services
	rooms := services.NewRoomService(mirror, monitor)
	seatService := services.NewSeatService(services.NewLockTable(), rooms, cfg.SeatLockTimeout, cfg.MaxSeatsPerLock, monitor)
	notifications := services.NewNotificationService(rooms)
	sweeper := services.NewExpirySweeper(seatService, cfg.SweepInterval, monitor)
	conns := services.NewConnRegistry(app.SubscriptionsBroker(), cfg.ClientOutboxSize)
	bookingConsumer := services.NewBookingConsumer(cfg.RabbitMQURL, cfg.BookingReleaseQueue, seatService)

	// Initialize handlers
	seatHandler := handlers.NewSeatHandler(seatService, rooms, conns, services.NewSeatCatalog(app))
	roomHandler := handlers.NewRoomHandler(rooms, conns, seatService)
	notificationHandler := handlers.NewNotificationHandler(notifications)
	adminHandler := handlers.NewAdminHandler(seatService, rooms, conns, healthRedis)

	// Enable migrations
	isGoRun := strings.HasPrefix(os.Args[0], os.TempDir())
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: isGoRun,
	})

	// A closed SSE stream leaves every room. Seat locks stay until they
	// are unlocked or expire.
	app.OnRealtimeConnectRequest().BindFunc(func(e *core.RealtimeConnectRequestEvent) error {
		err := e.Next()

		clientID := e.Client.Id()
		conns.Drop(clientID)
		rooms.Disconnect(clientID)

		return err
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		log.Println("Shutting down seat lock service...")
		cancel()
		sweeper.Stop()
		if pubnubMirror != nil {
			pubnubMirror.Stop()
		}
		return e.Next()
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Start background tasks
		sweeper.Start()
		go bookingConsumer.Run(ctx)
		if redisClient != nil {
			relay := services.NewNotificationRelay(redisClient, cfg.NotificationChannel, notifications)
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Printf("Notification relay stopped: %v", err)
				}
			}()
		}
		if pn != nil {
			go services.NewPaymentListener(pn, cfg.PaymentNotifyChannel, notifications).Run(ctx)
		}

		// Event room endpoints
		e.Router.POST("/api/v1/events/{eventId}/join", roomHandler.Join)
		e.Router.POST("/api/v1/events/{eventId}/leave", roomHandler.Leave)

		// Seat endpoints
		lockRoute := e.Router.POST("/api/v1/seats/lock", seatHandler.LockSeats)
		if redisClient != nil {
			limiter := security.NewRateLimiter(redisClient, "seat-lock", cfg.LockRateLimit, cfg.LockRateWindow)
			lockRoute.BindFunc(limiter.Middleware())
		}
		e.Router.POST("/api/v1/seats/unlock", seatHandler.UnlockSeats)
		e.Router.GET("/api/v1/events/{eventId}/locks", seatHandler.GetLocks)
		e.Router.GET("/api/v1/events/{eventId}/seats", seatHandler.GetSeats)

		// Collaborator endpoints
		e.Router.POST("/api/v1/events/{eventId}/notify", notificationHandler.Notify).
			BindFunc(handlers.RequireServiceKey(cfg.ServiceKeyHash))

		// Admin endpoints
		admin := e.Router.Group("/api/v1/admin")
		admin.Bind(apis.RequireSuperuserAuth())
		admin.GET("/seat-locks", adminHandler.GetLockDashboard)
		admin.POST("/seat-locks/release", adminHandler.ForceRelease)

		// Health check
		e.Router.GET("/health", adminHandler.Health)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}
