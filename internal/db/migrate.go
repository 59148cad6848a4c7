package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate runs AutoMigrate across every stable-map table and seeds the
// schema_version singleton row, following the teacher's
// NewMySQLRecorder(dsn)+AutoMigrate pattern generalized to the full table
// list instead of one snapshot table.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&QuoteRecord{},
		&SettlementRecord{},
		&UserTransactionRecord{},
		&ReserveStateRecord{},
		&AuditLogRecord{},
		&RpcCacheMetaRecord{},
		&AdminRecord{},
		&ConfigRecord{},
		&SchemaVersionRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	var sv SchemaVersionRecord
	result := gdb.First(&sv, "id = ?", 1)
	if result.Error == gorm.ErrRecordNotFound {
		return gdb.Create(&SchemaVersionRecord{ID: 1, Version: currentSchemaVersion}).Error
	}
	return result.Error
}
