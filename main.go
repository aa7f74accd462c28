package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"settlement-mirror-system/handlers"
	"settlement-mirror-system/models"
	"settlement-mirror-system/services"
	"settlement-mirror-system/utils"
	"settlement-mirror-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	apiURL := os.Getenv("SETTLEMENT_API_URL")
	if apiURL == "" {
		log.Fatal("SETTLEMENT_API_URL environment variable not set")
	}
	apiToken := os.Getenv("SETTLEMENT_API_TOKEN")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.MirroredSettlement{},
		&models.MirroredMember{},
		&models.MirroredCitizen{},
		&models.SkillName{},
		&models.TreasurySnapshot{},
		&models.SyncAuditRecord{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg := services.LoadSyncConfig()
	store := services.NewGormStore(db, cfg)
	apiClient := workers.NewSettlementAPIClient(apiURL, apiToken)

	archive, err := utils.NewSnapshotArchiveFromEnv()
	if err != nil {
		log.Fatal("failed to initialize snapshot archive:", err)
	}
	if archive == nil {
		log.Println("⚠️  R2 archive not configured — pruned snapshots will be deleted without archiving")
	}

	masterSync := services.NewMasterSyncService(store, apiClient, cfg)
	memberSync := services.NewMemberSyncService(store, apiClient, cfg)
	var archiver services.SnapshotArchiver
	if archive != nil {
		archiver = archive
	}
	treasury := services.NewTreasuryService(store, apiClient, cfg, archiver)

	scheduler := services.NewPollingScheduler(
		masterSync, memberSync, treasury, cfg,
		os.Getenv("TREASURY_SETTLEMENT_ID"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.StartPolling(ctx); err != nil {
		log.Fatal("failed to start polling scheduler:", err)
	}

	app := fiber.New()
	handlers.SetupSyncRoutes(app, scheduler, treasury, store)

	port := utils.GetEnv("HTTP_PORT", "5300")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Settlement mirror polling running")

	<-ctx.Done()
	log.Println("Shutting down...")
	scheduler.StopPolling()
	_ = app.Shutdown()
}
