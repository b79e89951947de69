package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/cropwatch/internal/api"
	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/pipeline"
	"github.com/banshee-data/cropwatch/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to pipeline config JSON (defaults apply when empty)")
	skipModel  = flag.Bool("skip-model-check", false, "Skip the model server health check at startup")
	noResume   = flag.Bool("no-resume", false, "Discard prior scan progress and rescan every tile")
)

func main() {
	flag.Parse()

	// .env carries catalog credentials in development; absence is fine in
	// production where the environment is set by the deploy layer.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg := loadConfig(*configPath)

	log.Printf("cropwatch %s", version.String())

	switch flag.Arg(0) {
	case "", "serve":
		if err := serve(cfg); err != nil {
			log.Fatal(err)
		}
	case "migrate":
		if err := runMigrate(cfg); err != nil {
			log.Fatal(err)
		}
	case "scan":
		if err := runScan(cfg, flag.Arg(1)); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown command %q (want serve, migrate, or scan)", flag.Arg(0))
	}
}

func serve(cfg *config.PipelineConfig) error {
	database, runner, cls, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := checkModel(cfg, cls); err != nil {
		return err
	}

	sched := pipeline.NewScheduler(cfg, runner, database, nil)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// scheduler goroutine: interval scans plus manual triggers from the API
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("scheduler stopped: %v", err)
		}
		log.Print("scheduler routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		apiServer := api.NewServer(database, cfg, sched, runner)
		mux.Handle("/api/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}
