/**
 * @description
 * This is the main entry point for the monetization-service. It is
 * responsible for initializing all components of the service, including
 * configuration, database connection and migrations, payment provider
 * clients, the message broker, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/stripeclient, pkg/paypalclient: Payment provider clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/streamhive/monetization-service/internal/api"
	"github.com/streamhive/monetization-service/internal/app"
	"github.com/streamhive/monetization-service/internal/config"
	"github.com/streamhive/monetization-service/internal/store"
	"github.com/streamhive/monetization-service/pkg/paypalclient"
	rmrabbit "github.com/streamhive/monetization-service/pkg/rabbitmq"
	"github.com/streamhive/monetization-service/pkg/stripeclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting monetization-service\" port=%s", cfg.ServerPort)

	// Apply schema migrations before opening the pool.
	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"migrations applied\"")

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish ledger events. The ledger
	// must keep working when the broker is down, hence the fallback.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment provider clients.
	stripeClient := stripeclient.NewClient(
		cfg.StripeAPIBaseURL,
		cfg.StripeAPIKey,
		cfg.StripeWebhookSecret,
		cfg.OnboardingReturnURL,
		cfg.OnboardingRefreshURL,
	)
	paypalClient := paypalclient.NewClient(
		cfg.PayPalAPIBaseURL,
		cfg.PayPalAPIKey,
		cfg.PayPalWebhookSecret,
	)

	// Optional redis client for payout request rate limiting.
	var redisClient *redis.Client
	if cfg.PayoutRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; payout rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payout rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payout rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	monetizationService := app.NewService(
		repository,
		[]app.ProviderGateway{stripeClient, paypalClient},
		producer,
		app.PolicyConfig{
			Currency:              cfg.Currency,
			PlatformFeePercent:    cfg.PlatformFeePercent,
			PlatformFixedFeeCents: cfg.PlatformFixedFeeCents,
			MinChargeAmountCents:  cfg.MinChargeAmountCents,
			MinPayoutAmountCents:  cfg.MinPayoutAmountCents,
			StarsPerUnit:          cfg.StarsPerUnit,
		},
	)
	if redisClient != nil {
		monetizationService.SetPayoutRateLimiter(
			app.NewRedisPayoutRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.PayoutRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	engine := monetizationService.ReconciliationEngine(cfg.StorageRetryAttempts)
	monetizationHandlers := api.NewMonetizationHandlers(monetizationService)
	webhookHandlers := api.NewWebhookHandlers(engine, stripeClient, paypalClient)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/monetization", api.MonetizationRoutes(monetizationHandlers, webhookHandlers, cfg.ClerkJWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the eligibility consumer: bind to eligibility events and ensure
	// graceful shutdown.
	eligibilityConsumer := monetizationService.EligibilityConsumer()

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	eligibilityBindings := map[string]func([]byte) bool{
		"creator.monetization.enabled":  eligibilityConsumer.HandleMessage,
		"creator.monetization.disabled": eligibilityConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.EligibilityQueue, eligibilityBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"eligibility consumer start failed\" err=%v", err)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
