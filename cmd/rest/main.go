package main

import (
	"context"
	"log"

	"ai-relay-be/internal/bootstrap"
	"ai-relay-be/internal/config"
	"ai-relay-be/internal/server"
	"ai-relay-be/internal/tracer"
	"ai-relay-be/pkg/database"
)

func main() {
	// 0. Initialize Tracer
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)

	// 4. Start Background Services
	ctx := context.Background()
	if err := container.ReceiveService.Start(ctx); err != nil {
		log.Panicf("Unable to start receive loop: %v", err)
	}
	if err := container.NotifierService.Start(ctx); err != nil {
		log.Printf("Warning: notifier failed to start: %v", err)
	}
	container.SessionService.StartReaper(ctx)

	// 5. Initialize Server
	srv := server.New(cfg, container)

	// 6. Run Server
	log.Fatal(srv.Run())
}
