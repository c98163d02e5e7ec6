package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lemonadev03/kbmd/internal/auth"
	"github.com/lemonadev03/kbmd/internal/draft"
	"github.com/lemonadev03/kbmd/internal/kb"
	"github.com/lemonadev03/kbmd/internal/org"
	"github.com/lemonadev03/kbmd/internal/server"
)

const (
	signingSecret   = "integration-secret"
	adminEmail      = "admin@example.com"
	adminPassword   = "admin-pw"
	orgSlug         = "acme"
	jsonContentType = "application/json"
)

// TestEditorFlow drives the full loop an editing client performs: password
// login, section setup, local draft edits, one batched save through the HTTP
// API, and a Markdown export of the committed state.
func TestEditorFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&org.Organization{}, &org.User{}, &org.Membership{},
		&kb.Section{}, &kb.PhaseGroup{}, &kb.FAQ{}, &kb.Variable{},
		&kb.CustomRules{}, &kb.CustomRulesVersion{}, &kb.ExportConfig{},
	); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	orgService, err := org.NewService(org.ServiceConfig{
		Database:   db,
		IDProvider: kb.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to build org service: %v", err)
	}
	kbService, err := kb.NewService(kb.ServiceConfig{
		Database:   db,
		IDProvider: kb.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build kb service: %v", err)
	}
	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "kbmd-auth",
		Audience:      "kbmd-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		KnowledgeBase: kbService,
		Organizations: orgService,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	organization, err := orgService.CreateOrganization("Acme", orgSlug)
	if err != nil {
		testContext.Fatalf("failed to create organization: %v", err)
	}
	admin, err := orgService.CreateUser(adminEmail, "Admin", adminPassword)
	if err != nil {
		testContext.Fatalf("failed to create admin: %v", err)
	}
	if err := orgService.AddMember(organization.ID, admin.ID, org.RoleAdmin); err != nil {
		testContext.Fatalf("failed to add membership: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Password login for a bearer token.
	loginBody, _ := json.Marshal(map[string]string{"email": adminEmail, "password": adminPassword})
	loginResp, err := http.Post(testServer.URL+"/auth/login", jsonContentType, bytes.NewReader(loginBody))
	if err != nil {
		testContext.Fatalf("login request failed: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", loginResp.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&login); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}

	basePath := testServer.URL + "/api/orgs/" + orgSlug
	doJSON := func(method, url string, payload any, target any) int {
		var body bytes.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				testContext.Fatalf("failed to encode payload: %v", err)
			}
			body = *bytes.NewReader(encoded)
		}
		request, err := http.NewRequest(method, url, &body)
		if err != nil {
			testContext.Fatalf("failed to build request: %v", err)
		}
		request.Header.Set("Content-Type", jsonContentType)
		request.Header.Set("Authorization", "Bearer "+login.AccessToken)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			testContext.Fatalf("request failed: %v", err)
		}
		defer response.Body.Close()
		if target != nil {
			if err := json.NewDecoder(response.Body).Decode(target); err != nil {
				testContext.Fatalf("failed to decode response: %v", err)
			}
		}
		return response.StatusCode
	}

	var section kb.Section
	if status := doJSON(http.MethodPost, basePath+"/sections", map[string]string{"name": "Shipping"}, &section); status != http.StatusCreated {
		testContext.Fatalf("unexpected section create status: %d", status)
	}

	// An editing session whose commit path is the real HTTP batch endpoint.
	session, err := draft.NewSession(draft.SessionConfig{
		Applier: draft.ApplierFunc(func(ctx context.Context, upserts []kb.FaqUpsert, deletes []string) (kb.BatchResult, error) {
			var result kb.BatchResult
			status := doJSON(http.MethodPost, basePath+"/faqs/batch", map[string]any{
				"upserts": upserts,
				"deletes": deletes,
			}, &result)
			if status != http.StatusOK {
				return kb.BatchResult{}, fmt.Errorf("batch endpoint returned %d", status)
			}
			return result, nil
		}),
	})
	if err != nil {
		testContext.Fatalf("failed to build session: %v", err)
	}

	firstID, err := session.CreateFAQ(section.ID, draft.Fields{
		Question: "Do you ship abroad?",
		Answer:   "  Yes, worldwide.  ",
	})
	if err != nil {
		testContext.Fatalf("failed to create draft: %v", err)
	}
	if _, err := session.CreateFAQ(section.ID, draft.Fields{
		Question: "How long does delivery take?",
		Answer:   "Three to five days.",
	}); err != nil {
		testContext.Fatalf("failed to create draft: %v", err)
	}

	result, err := session.Save(context.Background())
	if err != nil {
		testContext.Fatalf("save failed: %v", err)
	}
	if result.Upserted != 2 {
		testContext.Fatalf("expected 2 upserts, got %+v", result)
	}

	var listed struct {
		FAQs []kb.FAQ `json:"faqs"`
	}
	if status := doJSON(http.MethodGet, basePath+"/faqs", nil, &listed); status != http.StatusOK {
		testContext.Fatalf("unexpected faq list status: %d", status)
	}
	if len(listed.FAQs) != 2 {
		testContext.Fatalf("expected 2 committed faqs, got %d", len(listed.FAQs))
	}
	for _, record := range listed.FAQs {
		if record.ID == firstID && record.Answer != "Yes, worldwide." {
			testContext.Fatalf("expected trimmed answer, got %q", record.Answer)
		}
	}

	// Second cycle: edit one, delete the other, commit again.
	session.ReplaceBase(listed.FAQs)
	session.SetField(firstID, draft.FieldAnswer, "Yes, to most countries.")
	for _, record := range listed.FAQs {
		if record.ID != firstID {
			session.DeleteFAQ(record.ID)
		}
	}
	result, err = session.Save(context.Background())
	if err != nil {
		testContext.Fatalf("second save failed: %v", err)
	}
	if result.Upserted != 1 || result.Deleted != 1 {
		testContext.Fatalf("unexpected second batch result: %+v", result)
	}

	var exported struct {
		Markdown string `json:"markdown"`
	}
	if status := doJSON(http.MethodPost, basePath+"/export", map[string]any{
		"config": map[string]any{"sectionIds": []string{section.ID}},
	}, &exported); status != http.StatusOK {
		testContext.Fatalf("unexpected export status: %d", status)
	}
	for _, fragment := range []string{"# Knowledge Base", "# Shipping", "## Do you ship abroad?", "Yes, to most countries."} {
		if !bytes.Contains([]byte(exported.Markdown), []byte(fragment)) {
			testContext.Fatalf("expected export to contain %q, got:\n%s", fragment, exported.Markdown)
		}
	}
	if bytes.Contains([]byte(exported.Markdown), []byte("How long does delivery take?")) {
		testContext.Fatalf("deleted faq leaked into export:\n%s", exported.Markdown)
	}
}
