package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskhub/hub/config"
)

func newTestStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	dialector := postgres.New(postgres.Config{Conn: mockDB})
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	pool, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2}, zap.NewNop())
	require.NoError(t, err)

	return NewWithPool(pool, zap.NewNop()), mock
}

func auditConfigWithDriver(driver string) config.AuditConfig {
	return config.AuditConfig{Driver: driver, Name: "audit.db"}
}

func TestStore_TableName(t *testing.T) {
	assert.Equal(t, "audit_transitions", Record{}.TableName())
}

func TestDialectorFor_UnsupportedDriver(t *testing.T) {
	_, err := dialectorFor(auditConfigWithDriver("oracle"))
	assert.Error(t, err)
}

func TestDialectorFor_SQLiteDefault(t *testing.T) {
	dialector, err := dialectorFor(auditConfigWithDriver(""))
	require.NoError(t, err)
	assert.NotNil(t, dialector)
}

func TestDialectorFor_Postgres(t *testing.T) {
	cfg := auditConfigWithDriver("postgres")
	cfg.Host, cfg.Port, cfg.User, cfg.Name = "db", 5432, "hub", "hub_audit"
	dialector, err := dialectorFor(cfg)
	require.NoError(t, err)
	assert.NotNil(t, dialector)
}

func TestDialectorFor_MySQL(t *testing.T) {
	cfg := auditConfigWithDriver("mysql")
	cfg.Host, cfg.Port, cfg.User, cfg.Name = "db", 3306, "hub", "hub_audit"
	dialector, err := dialectorFor(cfg)
	require.NoError(t, err)
	assert.NotNil(t, dialector)
}

func TestSSLModeOrDefault(t *testing.T) {
	assert.Equal(t, "disable", sslModeOrDefault(""))
	assert.Equal(t, "require", sslModeOrDefault("require"))
}

func TestStore_Record_WritesRow(t *testing.T) {
	store, mock := newTestStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_transitions"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	store.Record("pr", "PR-1", "pending", "assigned", time.Now())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Record_SwallowsError(t *testing.T) {
	store, mock := newTestStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_transitions"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.NotPanics(t, func() {
		store.Record("agent", "agent-1", "idle", "working", time.Now())
	})
}

func TestStore_ListByEntity_DefaultsLimit(t *testing.T) {
	store, mock := newTestStoreWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "audit_transitions"`).
		WillReturnRows(mock.NewRows([]string{"id", "entity_kind", "entity_id", "from_state", "to_state", "occurred_at", "recorded_at"}))

	rows, err := store.ListByEntity(context.Background(), "pr", "PR-1", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_ListRecent(t *testing.T) {
	store, mock := newTestStoreWithMock(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM "audit_transitions"`).
		WillReturnRows(mock.NewRows([]string{"id", "entity_kind", "entity_id", "from_state", "to_state", "occurred_at", "recorded_at"}).
			AddRow(1, "pr", "PR-1", "pending", "assigned", now, now))

	rows, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PR-1", rows[0].EntityID)
}

func TestStore_PoolAndClose(t *testing.T) {
	store, mock := newTestStoreWithMock(t)
	assert.NotNil(t, store.Pool())

	mock.ExpectClose()
	require.NoError(t, store.Close())
}
