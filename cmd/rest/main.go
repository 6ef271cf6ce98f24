package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campus-qa-be/internal/bootstrap"
	"campus-qa-be/internal/config"
	"campus-qa-be/internal/server"
	"campus-qa-be/internal/tracer"
	"campus-qa-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration (.env first, everything below reads cfg)
	cfg := config.Load()

	// 1b. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(cfg.Otel)
	defer shutdownTracer(context.Background())

	// 2. Initialize Database (only the pgvector index needs it)
	var gormDB *gorm.DB
	if cfg.Pipeline.IndexBackend != bootstrap.IndexBackendMemory {
		var err error
		gormDB, err = database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{
			Production: cfg.App.Environment == "production",
		})
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
	}

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(gormDB, cfg)
	if err != nil {
		log.Panicf("Unable to bootstrap: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start Background Services
	go func() {
		log.Println("Background: Starting Consumer Service...")
		if err := container.ConsumerService.Consume(ctx); err != nil {
			log.Printf("Background Consumer Error: %v", err)
		}
	}()
	if container.SessionSync != nil {
		go func() {
			log.Println("Background: Starting Session Sync...")
			if err := container.SessionSync.Start(ctx); err != nil {
				log.Printf("Background Session Sync Error: %v", err)
			}
		}()
	}

	// 5. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// 6. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
	_ = container.Logger.Sync()
}
