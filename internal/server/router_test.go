package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lemonadev03/kbmd/internal/auth"
	"github.com/lemonadev03/kbmd/internal/kb"
	"github.com/lemonadev03/kbmd/internal/org"
)

const (
	testSigningSecret = "router-test-secret"
	testOrgSlug       = "acme"
	jsonContentType   = "application/json"
)

type routerHarness struct {
	server      *httptest.Server
	tokens      *auth.TokenManager
	orgService  *org.Service
	kbService   *kb.Service
	adminToken  string
	memberToken string
	orgID       string
}

func newRouterHarness(testContext *testing.T) *routerHarness {
	testContext.Helper()
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
	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "kbmd-auth",
		Audience:      "kbmd-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokens,
		KnowledgeBase: kbService,
		Organizations: orgService,
		Dispatcher:    NewChangeDispatcher(),
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	organization, err := orgService.CreateOrganization("Acme", testOrgSlug)
	if err != nil {
		testContext.Fatalf("failed to create organization: %v", err)
	}
	admin, err := orgService.CreateUser("admin@example.com", "Admin", "admin-pw")
	if err != nil {
		testContext.Fatalf("failed to create admin: %v", err)
	}
	member, err := orgService.CreateUser("member@example.com", "Member", "member-pw")
	if err != nil {
		testContext.Fatalf("failed to create member: %v", err)
	}
	if err := orgService.AddMember(organization.ID, admin.ID, org.RoleAdmin); err != nil {
		testContext.Fatalf("failed to add admin membership: %v", err)
	}
	if err := orgService.AddMember(organization.ID, member.ID, org.RoleMember); err != nil {
		testContext.Fatalf("failed to add member membership: %v", err)
	}

	adminToken, _, err := tokens.Issue(admin.ID, admin.Email, admin.Name)
	if err != nil {
		testContext.Fatalf("failed to issue admin token: %v", err)
	}
	memberToken, _, err := tokens.Issue(member.ID, member.Email, member.Name)
	if err != nil {
		testContext.Fatalf("failed to issue member token: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)

	return &routerHarness{
		server:      testServer,
		tokens:      tokens,
		orgService:  orgService,
		kbService:   kbService,
		adminToken:  adminToken,
		memberToken: memberToken,
		orgID:       organization.ID,
	}
}

func (h *routerHarness) do(testContext *testing.T, method, path, token string, body any) *http.Response {
	testContext.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeBody(testContext *testing.T, response *http.Response, target any) {
	testContext.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
}

func TestRouterRejectsMissingBearer(testContext *testing.T) {
	harness := newRouterHarness(testContext)

	response := harness.do(testContext, http.MethodGet, "/api/orgs", "", nil)
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401, got %d", response.StatusCode)
	}
}

func TestLoginIssuesUsableToken(testContext *testing.T) {
	harness := newRouterHarness(testContext)

	response := harness.do(testContext, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "admin-pw",
	})
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", response.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(testContext, response, &login)
	if login.AccessToken == "" || login.TokenType != "Bearer" {
		testContext.Fatalf("unexpected login payload: %+v", login)
	}

	orgsResponse := harness.do(testContext, http.MethodGet, "/api/orgs", login.AccessToken, nil)
	if orgsResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 listing orgs, got %d", orgsResponse.StatusCode)
	}
	var orgs struct {
		Organizations []struct {
			Slug string `json:"slug"`
			Role string `json:"role"`
		} `json:"organizations"`
	}
	decodeBody(testContext, orgsResponse, &orgs)
	if len(orgs.Organizations) != 1 || orgs.Organizations[0].Slug != testOrgSlug || orgs.Organizations[0].Role != "admin" {
		testContext.Fatalf("unexpected organizations payload: %+v", orgs)
	}
}

func TestLoginRejectsWrongPassword(testContext *testing.T) {
	harness := newRouterHarness(testContext)

	response := harness.do(testContext, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401, got %d", response.StatusCode)
	}
}

func TestMemberReadsButCannotMutate(testContext *testing.T) {
	harness := newRouterHarness(testContext)
	basePath := "/api/orgs/" + testOrgSlug

	readResponse := harness.do(testContext, http.MethodGet, basePath+"/sections", harness.memberToken, nil)
	defer readResponse.Body.Close()
	if readResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected member read to succeed, got %d", readResponse.StatusCode)
	}

	writeResponse := harness.do(testContext, http.MethodPost, basePath+"/sections", harness.memberToken, map[string]string{"name": "Blocked"})
	defer writeResponse.Body.Close()
	if writeResponse.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected member write to be forbidden, got %d", writeResponse.StatusCode)
	}
}

func TestUnknownSlugAndNonMember(testContext *testing.T) {
	harness := newRouterHarness(testContext)

	unknownResponse := harness.do(testContext, http.MethodGet, "/api/orgs/ghost/sections", harness.adminToken, nil)
	defer unknownResponse.Body.Close()
	if unknownResponse.StatusCode != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown slug, got %d", unknownResponse.StatusCode)
	}

	outsider, err := harness.orgService.CreateUser("outsider@example.com", "Outsider", "pw")
	if err != nil {
		testContext.Fatalf("failed to create outsider: %v", err)
	}
	outsiderToken, _, err := harness.tokens.Issue(outsider.ID, outsider.Email, outsider.Name)
	if err != nil {
		testContext.Fatalf("failed to issue outsider token: %v", err)
	}

	forbiddenResponse := harness.do(testContext, http.MethodGet, "/api/orgs/"+testOrgSlug+"/sections", outsiderToken, nil)
	defer forbiddenResponse.Body.Close()
	if forbiddenResponse.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected 403 for non-member, got %d", forbiddenResponse.StatusCode)
	}
}

func TestSectionFaqBatchAndExportFlow(testContext *testing.T) {
	harness := newRouterHarness(testContext)
	basePath := "/api/orgs/" + testOrgSlug

	createResponse := harness.do(testContext, http.MethodPost, basePath+"/sections", harness.adminToken, map[string]string{"name": "Shipping"})
	if createResponse.StatusCode != http.StatusCreated {
		testContext.Fatalf("expected 201 creating section, got %d", createResponse.StatusCode)
	}
	var section kb.Section
	decodeBody(testContext, createResponse, &section)

	batchResponse := harness.do(testContext, http.MethodPost, basePath+"/faqs/batch", harness.adminToken, map[string]any{
		"upserts": []map[string]any{
			{"id": "faq-1", "sectionId": section.ID, "question": "Do you ship abroad?", "answer": "Yes.", "order": 0},
		},
		"deletes": []string{},
	})
	if batchResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 applying batch, got %d", batchResponse.StatusCode)
	}
	var batchResult kb.BatchResult
	decodeBody(testContext, batchResponse, &batchResult)
	if batchResult.Upserted != 1 {
		testContext.Fatalf("unexpected batch result: %+v", batchResult)
	}

	invalidResponse := harness.do(testContext, http.MethodPost, basePath+"/faqs/batch", harness.adminToken, map[string]any{
		"upserts": []map[string]any{
			{"id": "faq-2", "sectionId": "foreign-section", "question": "Q", "answer": "A"},
		},
	})
	defer invalidResponse.Body.Close()
	if invalidResponse.StatusCode != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for foreign section, got %d", invalidResponse.StatusCode)
	}

	rulesResponse := harness.do(testContext, http.MethodPut, basePath+"/custom-rules", harness.adminToken, map[string]string{"content": "Be concise."})
	if rulesResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 saving rules, got %d", rulesResponse.StatusCode)
	}
	rulesResponse.Body.Close()

	exportResponse := harness.do(testContext, http.MethodPost, basePath+"/export", harness.adminToken, map[string]any{
		"config": map[string]any{
			"includeCustomRules": true,
			"sectionIds":         []string{section.ID},
		},
	})
	if exportResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 exporting, got %d", exportResponse.StatusCode)
	}
	var exported struct {
		Markdown string `json:"markdown"`
	}
	decodeBody(testContext, exportResponse, &exported)
	for _, fragment := range []string{"# Knowledge Base", "# Shipping", "## Do you ship abroad?", "Be concise."} {
		if !bytes.Contains([]byte(exported.Markdown), []byte(fragment)) {
			testContext.Fatalf("expected export to contain %q, got:\n%s", fragment, exported.Markdown)
		}
	}
}

func TestVariableLifecycleOverHTTP(testContext *testing.T) {
	harness := newRouterHarness(testContext)
	basePath := "/api/orgs/" + testOrgSlug

	createResponse := harness.do(testContext, http.MethodPost, basePath+"/variables", harness.adminToken, map[string]string{"key": "company", "value": "Acme"})
	if createResponse.StatusCode != http.StatusCreated {
		testContext.Fatalf("expected 201 creating variable, got %d", createResponse.StatusCode)
	}
	var variable kb.Variable
	decodeBody(testContext, createResponse, &variable)

	updateResponse := harness.do(testContext, http.MethodPatch, basePath+"/variables/"+variable.ID, harness.adminToken, map[string]string{"key": "company", "value": "Acme Corp"})
	if updateResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 updating variable, got %d", updateResponse.StatusCode)
	}
	updateResponse.Body.Close()

	deleteResponse := harness.do(testContext, http.MethodDelete, basePath+"/variables/"+variable.ID, harness.adminToken, nil)
	defer deleteResponse.Body.Close()
	if deleteResponse.StatusCode != http.StatusNoContent {
		testContext.Fatalf("expected 204 deleting variable, got %d", deleteResponse.StatusCode)
	}

	missingResponse := harness.do(testContext, http.MethodDelete, basePath+"/variables/"+variable.ID, harness.adminToken, nil)
	defer missingResponse.Body.Close()
	if missingResponse.StatusCode != http.StatusNotFound {
		testContext.Fatalf("expected 404 for missing variable, got %d", missingResponse.StatusCode)
	}
}
