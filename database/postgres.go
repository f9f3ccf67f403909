package database

import (
	"fmt"

	"messaging-service/config"
	"messaging-service/model"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func PostgresConnect() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Config("POSTGRES_HOST"),
		config.Default("POSTGRES_PORT", "5432"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
		config.Default("POSTGRES_SSLMODE", "disable"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("connection opened to Postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info().Msg("Postgres database migrated")
	return db, nil
}

// Migrate creates or updates every table owned by the messaging core.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.Reaction{},
		&model.MessageRead{},
		&model.PinnedMessage{},
		&model.Attachment{},
		&model.AuditLog{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
