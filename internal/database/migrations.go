package database

import (
	"errors"
	"time"

	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeSyncStatus = "2026-10-01_normalize_session_sync_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeSyncStatus, apply: normalizeSessionSyncStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeSessionSyncStatus repairs rows written before the sync status invariant was
// enforced: error rows always carry a message, other rows never do.
func normalizeSessionSyncStatus(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sessions.Session{}).
			Where("sync_status NOT IN ?", []sessions.SyncStatus{sessions.SyncStatusPending, sessions.SyncStatusSynced, sessions.SyncStatusError}).
			Update("sync_status", sessions.SyncStatusPending).Error; err != nil {
			return err
		}
		if err := tx.Model(&sessions.Session{}).
			Where("sync_status <> ? AND sync_error IS NOT NULL", sessions.SyncStatusError).
			Update("sync_error", nil).Error; err != nil {
			return err
		}
		return tx.Model(&sessions.Session{}).
			Where("sync_status = ? AND (sync_error IS NULL OR sync_error = '')", sessions.SyncStatusError).
			Update("sync_error", "unknown sync error").Error
	})
}
