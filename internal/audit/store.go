package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskhub/hub/config"
)

// Record is one durable transition-history row, additive to the
// bounded in-memory history kept by internal/statemachine.
type Record struct {
	ID         uint      `gorm:"primaryKey"`
	EntityKind string    `gorm:"size:16;index:idx_entity,priority:1;not null"`
	EntityID   string    `gorm:"size:128;index:idx_entity,priority:2;not null"`
	FromState  string    `gorm:"size:32;not null"`
	ToState    string    `gorm:"size:32;not null"`
	OccurredAt time.Time `gorm:"index;not null"`
	RecordedAt time.Time `gorm:"not null"`
}

// TableName pins the table name regardless of gorm's pluralization.
func (Record) TableName() string {
	return "audit_transitions"
}

// Store is the durable transition-history sink described by
// SPEC_FULL.md's audit row: every PR/agent transition recorded by
// internal/statemachine is additionally appended here so operators can
// query history past the in-memory bound.
type Store struct {
	pool   *PoolManager
	logger *zap.Logger
	// writeTimeout bounds each synchronous Record write, so a slow or
	// down audit database blocks the caller for at most this long.
	writeTimeout time.Duration
}

// Open dials the audit database named by cfg.Driver (postgres, mysql,
// or sqlite) and wraps it in a pooled Store.
func Open(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit schema automigrate: %w", err)
	}

	poolCfg := DefaultPoolConfig()
	poolCfg.MaxOpenConns = cfg.MaxOpenConns
	poolCfg.MaxIdleConns = cfg.MaxIdleConns
	poolCfg.ConnMaxLifetime = cfg.ConnMaxLifetime

	pool, err := NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	return &Store{pool: pool, logger: logger.With(zap.String("component", "audit_store")), writeTimeout: 5 * time.Second}, nil
}

// NewWithPool builds a Store directly over an existing pool, for
// tests that construct their own sqlmock-backed gorm.DB and
// PoolManager.
func NewWithPool(pool *PoolManager, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.With(zap.String("component", "audit_store")), writeTimeout: 5 * time.Second}
}

func dialectorFor(cfg config.AuditConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslModeOrDefault(cfg.SSLMode))
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3", "":
		return sqlite.Open(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", cfg.Driver)
	}
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}

// Record implements statemachine.Sink. The write runs synchronously
// but bounded by writeTimeout and swallows its own error (logged, not
// returned) since a durable-audit failure must never fail the
// transition it is shadowing.
func (s *Store) Record(entityKind, entityID, from, to string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	row := Record{
		EntityKind: entityKind,
		EntityID:   entityID,
		FromState:  from,
		ToState:    to,
		OccurredAt: at,
		RecordedAt: time.Now(),
	}
	if err := s.pool.DB().WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("audit record write failed",
			zap.String("entity_kind", entityKind),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// ListByEntity returns entityID's durable transition history, newest
// first, for the status server's drill-down view (the in-memory
// history is bounded to 100; this is not).
func (s *Store) ListByEntity(ctx context.Context, entityKind, entityID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Record
	err := s.pool.DB().WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", entityKind, entityID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListRecent returns the most recent transitions across every entity.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Record
	err := s.pool.DB().WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Pool exposes the underlying PoolManager, e.g. for metrics
// (Collector.RecordDBConnections) or graceful shutdown.
func (s *Store) Pool() *PoolManager {
	return s.pool
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.pool.Close()
}
