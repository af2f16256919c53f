package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

type StoreService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewStoreService opens the durable store. Postgres is the production driver;
// DB_DRIVER=sqlite keeps local runs dependency-free.
func NewStoreService(cfg *config.Config, log *logger.Logger) (*StoreService, error) {
	serviceLog := log.With("service", "StoreService")

	var (
		gdb *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.DB.Driver)) {
	case "sqlite":
		path := cfg.DB.Path
		if path == "" {
			path = "auditlens.db"
		}
		gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	default:
		host := cfg.DB.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.DB.Port
		if port == "" {
			port = "5432"
		}
		user := cfg.DB.User
		if user == "" {
			user = "postgres"
		}
		name := cfg.DB.Name
		if name == "" {
			name = "auditlens"
		}
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, cfg.DB.Password, host, port, name)
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	}
	if err != nil {
		serviceLog.Error("Failed to open database", "driver", cfg.DB.Driver, "error", err)
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &StoreService{db: gdb, log: serviceLog}, nil
}

func (s *StoreService) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&audit.AuditSession{},
		&audit.ConceptNode{},
		&audit.GraphEdge{},
		&audit.TesseractCell{},
		&audit.VennRecord{},
		&audit.PipelineStep{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *StoreService) DB() *gorm.DB {
	return s.db
}
