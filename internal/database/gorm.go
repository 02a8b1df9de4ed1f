package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-automation/internal/models"
)

// Open connects to the configured database. Supported drivers are sqlite and postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "crm.db"
		}
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite allows one writer; serialize through a single connection.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Tables lists every model the engine owns, parents before children.
func Tables() []any {
	return []any{
		&models.Channel{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
		&models.ContactTag{},
		&models.Deal{},
		&models.Automation{},
		&models.AutomationExecutionLog{},
		&models.Chatbot{},
		&models.FlowNode{},
		&models.FlowEdge{},
		&models.ChatbotExecution{},
		&models.FlowTimer{},
	}
}

// Migrate creates or updates every table the engine owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Tables()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Info().Msg("database migration completed")
	return nil
}

// OpenAndMigrate is the startup path shared by the server and crmctl.
func OpenAndMigrate(driver, dsn string) (*gorm.DB, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// SequenceTables lists postgres tables with serial ids.
var SequenceTables = []string{"flow_nodes", "flow_edges"}

// SyncSequences realigns postgres serial sequences after bulk imports.
func SyncSequences(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return fmt.Errorf("sequence sync requires postgres, got %s", db.Dialector.Name())
	}
	for _, table := range SequenceTables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			return fmt.Errorf("sync sequence for %s: %w", table, err)
		}
		log.Info().Str("table", table).Msg("synced sequence")
	}
	return nil
}

func ensureSQLiteDirectory(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}
