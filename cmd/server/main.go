package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-otp-gateway/internal/audit"
	auditrepo "chat-otp-gateway/internal/audit/repository"
	"chat-otp-gateway/internal/bridge"
	"chat-otp-gateway/internal/config"
	"chat-otp-gateway/internal/contact"
	contactrepo "chat-otp-gateway/internal/contact/repository"
	"chat-otp-gateway/internal/db"
	"chat-otp-gateway/internal/db/migrate"
	"chat-otp-gateway/internal/gateway"
	healthhandler "chat-otp-gateway/internal/health/handler"
	"chat-otp-gateway/internal/otp"
	otprepo "chat-otp-gateway/internal/otp/repository"
	"chat-otp-gateway/internal/send"
	"chat-otp-gateway/internal/server"
	"chat-otp-gateway/internal/session"
	"chat-otp-gateway/internal/telemetry"
	"chat-otp-gateway/internal/telemetry/otel"
	"chat-otp-gateway/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.BridgeURL == "" {
		log.Fatal("BRIDGE_URL is not set; point it at the messaging engine's control endpoint")
	}

	if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	// Telemetry: OTel logs when an endpoint is configured, Kafka when brokers are.
	providers, err := otel.NewProviders(context.Background(), cfg.OTLPEndpoint, "chat-otp-gateway", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	var emitters telemetry.MultiEmitter
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, otel.NewEventEmitter(providers.LoggerProvider))
	}
	kafkaProducer := producer.NewKafkaProducer(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
	}
	var emitter telemetry.EventEmitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	// Session: bridge adapter plus the readiness machine that owns it.
	client := bridge.NewClient(cfg.BridgeURL)
	machine := session.NewMachine(client, emitter, cfg.WatchdogCeilingDuration())

	startCtx, startCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := machine.Start(startCtx); err != nil {
		// The watchdog will keep retrying through the bridge; do not exit.
		log.Printf("session: initial connect failed, continuing degraded: %v", err)
	}
	startCancel()

	pipeline := send.NewPipeline(machine, emitter, cfg.ChannelSuffix, cfg.SendTimeoutDuration(), cfg.SendMaxAttempts)

	auditRepo := auditrepo.NewPostgresRepository(database)
	recorder := audit.NewLogger(auditRepo)

	otpService := otp.NewService(
		otprepo.NewPostgresRepository(database),
		pipeline,
		recorder,
		emitter,
		cfg.OTPTTLDuration(),
		cfg.OTPCooldownDuration(),
		cfg.OTPMaxAttempts,
	)
	contactService := contact.NewService(
		contactrepo.NewPostgresRepository(database),
		pipeline,
		recorder,
		cfg.AdminPhone,
	)
	facade := gateway.NewFacade(machine)

	router := server.NewRouter(server.Deps{
		Handler: server.NewHandler(otpService, contactService, facade, auditRepo),
		Health:  healthhandler.NewHandler(database, machine),
		APIKey:  cfg.APIKey,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	machine.Stop(shutdownCtx)

	// Let in-flight async emits finish before closing the emitters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Printf("kafka close: %v", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("stopped")
}
