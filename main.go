package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"roomno4/internal/api"
	"roomno4/internal/capacity"
	"roomno4/internal/config"
	"roomno4/internal/database/migrations"
	"roomno4/internal/logger"
	"roomno4/internal/notify"
	"roomno4/internal/payment"
	"roomno4/internal/signup"
	"roomno4/internal/tickets"
)

func connectPostgres(dsn string, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, addr string, log *logger.Logger) *redis.Client {
	if addr == "" {
		log.Info("REDIS", "REDIS_ADDR not set, status cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unreachable, continuing without cache: %v", err))
		client.Close()
		return nil
	}

	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", addr))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting ticket service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()

	bunDB := connectPostgres(cfg.Database.DSN, log)
	defer bunDB.Close()

	redisClient := connectRedis(ctx, cfg.Redis.Addr, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Up(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Schema migrations applied")

	httpClient := &http.Client{Timeout: 10 * time.Second}

	signupDB := &signup.DB{Bun: bunDB}
	ticketDB := &tickets.DB{Bun: bunDB}

	gate := capacity.NewGate(cfg.Tickets.Limit, redisClient, log,
		signupDB.CountSignups, ticketDB.CountTickets)
	signupService := signup.NewService(signupDB, gate, log)
	issuer := tickets.NewIssuer(ticketDB, log)
	gateway := payment.NewGateway(cfg.Stripe, log)
	dispatcher := notify.NewDispatcher(cfg.Email, cfg.Telegram, httpClient, log)

	handler := &api.Handler{
		Signups:  signupService,
		Issuer:   issuer,
		Gateway:  gateway,
		Gate:     gate,
		Notifier: dispatcher,
		Logger:   log,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(api.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Stripe-Signature"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handler.Status)
		r.Post("/signup", handler.Signup)
		r.Post("/create-checkout", handler.CreateCheckout)
		r.Post("/stripe/webhook", handler.StripeWebhook)
		r.Get("/ticket", handler.Ticket)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.NotFound(api.StaticHandler(cfg.Server.StaticDir))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Ticket service running on :%s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Ticket service shutdown complete")
	}
}
