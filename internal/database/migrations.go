package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeFaqOrders = "2026-08-12_normalize_faq_display_orders"

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
		{name: migrationNormalizeFaqOrders, apply: normalizeFaqDisplayOrders},
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

// normalizeFaqDisplayOrders rewrites display orders to be contiguous within
// each section. Rows imported from older dumps could carry duplicate orders.
func normalizeFaqDisplayOrders(db *gorm.DB) error {
	const statement = `
UPDATE faqs SET display_order = (
	SELECT ranked.rank FROM (
		SELECT id, ROW_NUMBER() OVER (
			PARTITION BY org_id, section_id
			ORDER BY display_order, created_at, id
		) - 1 AS rank
		FROM faqs
	) AS ranked
	WHERE ranked.id = faqs.id
);`
	return db.Exec(statement).Error
}
