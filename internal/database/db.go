package database

import (
	"log"

	"textbook-backend/internal/config"
	"textbook-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init(cfg *config.Config) {
	var err error

	DB, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Requisition.pending_level backfill: older deployments tracked only the
	// status string and left the gate cursor empty after partial rollouts.
	// Must run before AutoMigrate adds the NOT NULL default.
	if DB.Migrator().HasTable(&models.Requisition{}) &&
		DB.Migrator().HasColumn(&models.Requisition{}, "pending_level") {
		var nullCount int64
		DB.Raw("SELECT COUNT(*) FROM requisitions WHERE pending_level IS NULL OR pending_level = ''").Scan(&nullCount)
		if nullCount > 0 {
			log.Printf("Backfilling pending_level on %d requisition rows...", nullCount)
			DB.Exec("UPDATE requisitions SET pending_level = 'BLOCK' WHERE (pending_level IS NULL OR pending_level = '') AND status = 'PENDING'")
			DB.Exec("UPDATE requisitions SET pending_level = 'STATE' WHERE pending_level IS NULL OR pending_level = ''")
		}
	}

	err = DB.AutoMigrate(
		&models.District{},
		&models.Block{},
		&models.School{},
		&models.User{},
		&models.Book{},
		&models.StockEntry{},
		&models.Requisition{},
		&models.Challan{},
		&models.ChallanItem{},
		&models.ChallanSequence{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("Database connected, migration complete.")
}
