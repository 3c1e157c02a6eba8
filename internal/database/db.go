package database

import (
	"fmt"
	"strings"
	"time"

	"formbase/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens the database described by data.database_url and runs
// auto-migration. sqlite:// URLs use the pure-Go driver; postgres:// and
// postgresql:// use pgx.
func New(conf *viper.Viper, log *zap.Logger) (*gorm.DB, error) {
	databaseURL := conf.GetString("data.database_url")

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		dialector = postgres.Open(databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	if conf.GetString("log.level") == "debug" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	maxOpenConns := conf.GetInt("data.max_open_conns")
	maxIdleConns := conf.GetInt("data.max_idle_conns")
	connMaxLifetime := conf.GetDuration("data.conn_max_lifetime")
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	log.Info("database initialized",
		zap.Int("max_open", maxOpenConns),
		zap.Int("max_idle", maxIdleConns),
		zap.Duration("max_lifetime", connMaxLifetime))

	return db, nil
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Dhis2Instance{},
		&models.Location{},
		&models.SyncJob{},
		&models.Survey{},
		&models.SurveyFieldMapping{},
		&models.Submission{},
		&models.SubmissionResponse{},
		&models.SubmissionLog{},
	)
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
