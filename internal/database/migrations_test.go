package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lemonadev03/kbmd/internal/kb"
)

func openMigrationDB(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&kb.FAQ{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsNormalizesDisplayOrders(testContext *testing.T) {
	database := openMigrationDB(testContext)

	createdAt := time.Unix(1690000000, 0).UTC()
	rows := []kb.FAQ{
		{ID: "faq-a", OrgID: "org-1", SectionID: "sec-1", Question: "Q", Answer: "A", Order: 5, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "faq-b", OrgID: "org-1", SectionID: "sec-1", Question: "Q", Answer: "A", Order: 5, CreatedAt: createdAt.Add(time.Second), UpdatedAt: createdAt},
		{ID: "faq-c", OrgID: "org-1", SectionID: "sec-1", Question: "Q", Answer: "A", Order: 9, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "faq-d", OrgID: "org-1", SectionID: "sec-2", Question: "Q", Answer: "A", Order: 3, CreatedAt: createdAt, UpdatedAt: createdAt},
	}
	if err := database.Create(&rows).Error; err != nil {
		testContext.Fatalf("failed to insert faqs: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expectedOrders := map[string]int{
		"faq-a": 0,
		"faq-b": 1,
		"faq-c": 2,
		"faq-d": 0,
	}
	for id, wantOrder := range expectedOrders {
		var stored kb.FAQ
		if err := database.Where("id = ?", id).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to load %s: %v", id, err)
		}
		if stored.Order != wantOrder {
			testContext.Fatalf("expected %s order %d, got %d", id, wantOrder, stored.Order)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeFaqOrders).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration ledger entry: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected applied timestamp to be recorded")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	database := openMigrationDB(testContext)

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first run failed: %v", err)
	}
	var first migrationRecord
	if err := database.Where("name = ?", migrationNormalizeFaqOrders).Take(&first).Error; err != nil {
		testContext.Fatalf("expected ledger entry after first run: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second run failed: %v", err)
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count ledger entries: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected single ledger entry, got %d", count)
	}
}
