package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the subsystem's tables
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&Account{},
		&Subscription{},
		&Order{},
		&Plan{},
		&QuotaLimit{},
		&QuotaTally{},
		&Job{},
		&ArtifactRecord{},
	); err != nil {
		return err
	}

	log.Println("Database migrations completed successfully")
	return nil
}
