// Server is the application composition root: it wires Postgres, Redis, the
// deviation engine, the sweeper, and the HTTP/websocket surfaces, then runs
// until interrupted.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"route-deviation-service/internal/auth"
	"route-deviation-service/internal/config"
	"route-deviation-service/internal/engine"
	"route-deviation-service/internal/notify"
	"route-deviation-service/internal/store"
	transporthttp "route-deviation-service/internal/transport/http"
	"route-deviation-service/internal/transport/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pg.Close()

	rds, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rds.Close()

	counters := &engine.Counters{}

	redisEmitter := notify.NewRedisEmitter(rds.Client(), cfg.StaffChannel)
	emitter := notify.NewAsyncEmitter(redisEmitter, cfg.NotifyBuffer, cfg.NotifyTimeout, counters)
	go emitter.Run(ctx)

	tracker := engine.NewTracker(engine.TrackerDeps{
		Routes:    pg,
		Records:   pg,
		Incidents: pg,
		Emitter:   emitter,
		Live:      rds,
		Counters:  counters,
		Thresholds: engine.Thresholds{
			OnRouteMeters:      cfg.OnRouteThresholdMeters,
			ReturnMeters:       cfg.ReturnDistanceMeters,
			YellowAfter:        cfg.YellowAfter,
			RedAfter:           cfg.RedAfter,
			GracePeriod:        cfg.GracePeriod,
			MaxGraceExtensions: cfg.MaxGraceExtensions,
		},
	})
	defer tracker.Close()

	sweeper := engine.NewSweeper(tracker, cfg.SweepInterval)
	go sweeper.Run(ctx)

	hub := ws.NewHub(rds.Client(), cfg.StaffChannel)
	go hub.Run(ctx)

	authenticator := auth.NewAuthenticator(cfg, rds)
	router := transporthttp.NewRouter(tracker, pg, authenticator, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Server listening addr=:%s sweep=%s", cfg.HTTPPort, cfg.SweepInterval)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown err=%v", err)
	}
	emitter.Close()
}
