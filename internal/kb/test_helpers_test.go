package kb

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testOrgID = "org-1"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Section{}, &PhaseGroup{}, &FAQ{}, &Variable{}, &CustomRules{}, &CustomRulesVersion{}, &ExportConfig{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   newTestDB(t),
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustCreateSection(t *testing.T, service *Service, name string) Section {
	t.Helper()
	section, err := service.CreateSection(context.Background(), testOrgID, name)
	if err != nil {
		t.Fatalf("unexpected section create error: %v", err)
	}
	return section
}

func mustCreatePhaseGroup(t *testing.T, service *Service, name string) PhaseGroup {
	t.Helper()
	group, err := service.CreatePhaseGroup(context.Background(), testOrgID, name)
	if err != nil {
		t.Fatalf("unexpected phase group create error: %v", err)
	}
	return group
}
