package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func TestInitDB_SQLiteMigrates(t *testing.T) {
	db, err := InitDB(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "t.db")}, nil, &widget{})
	require.NoError(t, err)

	require.NoError(t, db.Create(&widget{Name: "a"}).Error)
	var got widget
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "a", got.Name)

	var fk int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)
}

func TestInitDB_UnknownDriver(t *testing.T) {
	_, err := InitDB(Config{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestInitDB_PostgresNeedsDSN(t *testing.T) {
	_, err := InitDB(Config{Driver: "postgres"}, nil)
	assert.Error(t, err)
}

func TestNowFunc(t *testing.T) {
	now := NowFunc()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%1000)
}
