package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lemonadev03/kbmd/internal/auth"
	"github.com/lemonadev03/kbmd/internal/export"
	"github.com/lemonadev03/kbmd/internal/kb"
	"github.com/lemonadev03/kbmd/internal/org"
)

const (
	userIDContextKey    = "kbmd_user_id"
	userEmailContextKey = "kbmd_user_email"
	userNameContextKey  = "kbmd_user_name"
	orgContextKey       = "kbmd_org"
	roleContextKey      = "kbmd_role"

	heartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingKBService     = errors.New("knowledge-base service dependency required")
	errMissingOrgService    = errors.New("organization service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates bearer tokens for the API.
type SessionTokenManager interface {
	Issue(userID, email, name string) (string, int64, error)
	Validate(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	TokenManager  SessionTokenManager
	KnowledgeBase *kb.Service
	Organizations *org.Service
	Dispatcher    *ChangeDispatcher
	Logger        *zap.Logger
	CORSOrigins   []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.KnowledgeBase == nil {
		return nil, errMissingKBService
	}
	if deps.Organizations == nil {
		return nil, errMissingOrgService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewChangeDispatcher()
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		kbService:  deps.KnowledgeBase,
		orgService: deps.Organizations,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.GET("/orgs", handler.handleListOrganizations)

	scoped := api.Group("/orgs/:slug")
	scoped.Use(handler.resolveOrganization)

	scoped.GET("/sections", handler.handleListSections)
	scoped.POST("/sections", handler.requireWriter, handler.handleCreateSection)
	scoped.POST("/sections/reorder", handler.requireWriter, handler.handleReorderSections)
	scoped.PATCH("/sections/:sectionID", handler.requireWriter, handler.handleRenameSection)
	scoped.DELETE("/sections/:sectionID", handler.requireWriter, handler.handleDeleteSection)
	scoped.PUT("/sections/:sectionID/group", handler.requireWriter, handler.handleAssignSectionGroup)
	scoped.DELETE("/sections/:sectionID/group", handler.requireWriter, handler.handleDetachSectionGroup)

	scoped.GET("/phase-groups", handler.handleListPhaseGroups)
	scoped.POST("/phase-groups", handler.requireWriter, handler.handleCreatePhaseGroup)
	scoped.POST("/phase-groups/reorder", handler.requireWriter, handler.handleReorderPhaseGroups)
	scoped.PATCH("/phase-groups/:groupID", handler.requireWriter, handler.handleRenamePhaseGroup)
	scoped.DELETE("/phase-groups/:groupID", handler.requireWriter, handler.handleDeletePhaseGroup)
	scoped.PUT("/phase-groups/:groupID/sections", handler.requireWriter, handler.handleReorderSectionsInGroup)

	scoped.GET("/faqs", handler.handleListFaqs)
	scoped.POST("/faqs/batch", handler.requireWriter, handler.handleFaqBatch)

	scoped.GET("/variables", handler.handleListVariables)
	scoped.POST("/variables", handler.requireWriter, handler.handleCreateVariable)
	scoped.PATCH("/variables/:variableID", handler.requireWriter, handler.handleUpdateVariable)
	scoped.DELETE("/variables/:variableID", handler.requireWriter, handler.handleDeleteVariable)

	scoped.GET("/custom-rules", handler.handleGetCustomRules)
	scoped.PUT("/custom-rules", handler.requireWriter, handler.handleSaveCustomRules)
	scoped.GET("/custom-rules/history", handler.handleCustomRulesHistory)
	scoped.POST("/custom-rules/history/:versionID/restore", handler.requireWriter, handler.handleRestoreCustomRules)

	scoped.GET("/export-configs", handler.handleListExportConfigs)
	scoped.POST("/export-configs", handler.requireWriter, handler.handleCreateExportConfig)
	scoped.PATCH("/export-configs/:configID", handler.requireWriter, handler.handleUpdateExportConfig)
	scoped.DELETE("/export-configs/:configID", handler.requireWriter, handler.handleDeleteExportConfig)

	scoped.POST("/export", handler.handleExport)
	scoped.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens     SessionTokenManager
	kbService  *kb.Service
	orgService *org.Service
	dispatcher *ChangeDispatcher
	logger     *zap.Logger
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.orgService.Authenticate(request.Email, request.Password)
	if err != nil {
		if errors.Is(err, org.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(account.ID, account.Email, account.Name)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      account.ID,
		UserName:    account.Name,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(userEmailContextKey, claims.UserEmail)
	c.Set(userNameContextKey, claims.UserName)
	c.Next()
}

func (h *httpHandler) resolveOrganization(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	organization, err := h.orgService.ResolveBySlug(c.Param("slug"))
	if err != nil {
		if errors.Is(err, org.ErrUnknownOrganization) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_organization"})
			return
		}
		h.logger.Error("organization lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "organization_lookup_failed"})
		return
	}

	role, err := h.orgService.RoleFor(organization.ID, userID)
	if err != nil {
		if errors.Is(err, org.ErrNotMember) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
			return
		}
		h.logger.Error("membership lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "membership_lookup_failed"})
		return
	}

	c.Set(orgContextKey, organization)
	c.Set(roleContextKey, role)
	c.Next()
}

func (h *httpHandler) requireWriter(c *gin.Context) {
	role, ok := c.Value(roleContextKey).(org.Role)
	if !ok || !role.CanWrite() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_role_required"})
		return
	}
	c.Next()
}

func (h *httpHandler) organization(c *gin.Context) org.Organization {
	organization, _ := c.Value(orgContextKey).(org.Organization)
	return organization
}

type organizationPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Role string `json:"role"`
}

func (h *httpHandler) handleListOrganizations(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	memberships, err := h.orgService.OrganizationsFor(userID)
	if err != nil {
		h.logger.Error("failed to list organizations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "organizations_failed"})
		return
	}

	response := make([]organizationPayload, 0, len(memberships))
	for _, membership := range memberships {
		response = append(response, organizationPayload{
			ID:   membership.Organization.ID,
			Name: membership.Organization.Name,
			Slug: membership.Organization.Slug,
			Role: string(membership.Role),
		})
	}
	c.JSON(http.StatusOK, gin.H{"organizations": response})
}

type createSectionPayload struct {
	Name         string `json:"name"`
	PhaseGroupID string `json:"phaseGroupId"`
}

type renamePayload struct {
	Name string `json:"name"`
}

type reorderPayload struct {
	OrderedIDs []string `json:"orderedIds"`
}

func (h *httpHandler) handleListSections(c *gin.Context) {
	sections, err := h.kbService.ListSections(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sections": sections})
}

func (h *httpHandler) handleCreateSection(c *gin.Context) {
	var request createSectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	var (
		section kb.Section
		err     error
	)
	if strings.TrimSpace(request.PhaseGroupID) != "" {
		section, err = h.kbService.CreateSectionInGroup(c.Request.Context(), orgID, request.PhaseGroupID, request.Name)
	} else {
		section, err = h.kbService.CreateSection(c.Request.Context(), orgID, request.Name)
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", section.ID)
	c.JSON(http.StatusCreated, section)
}

func (h *httpHandler) handleRenameSection(c *gin.Context) {
	var request renamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	section, err := h.kbService.RenameSection(c.Request.Context(), orgID, c.Param("sectionID"), request.Name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", section.ID)
	c.JSON(http.StatusOK, section)
}

func (h *httpHandler) handleDeleteSection(c *gin.Context) {
	orgID := h.organization(c).ID
	sectionID := c.Param("sectionID")
	if err := h.kbService.DeleteSection(c.Request.Context(), orgID, sectionID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", sectionID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderSections(c *gin.Context) {
	var request reorderPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.OrderedIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	if err := h.kbService.ReorderSections(c.Request.Context(), orgID, request.OrderedIDs); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", request.OrderedIDs...)
	c.Status(http.StatusNoContent)
}

type assignGroupPayload struct {
	GroupID string `json:"groupId"`
}

func (h *httpHandler) handleAssignSectionGroup(c *gin.Context) {
	var request assignGroupPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GroupID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	section, err := h.kbService.AssignSectionToGroup(c.Request.Context(), orgID, c.Param("sectionID"), request.GroupID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", section.ID)
	c.JSON(http.StatusOK, section)
}

func (h *httpHandler) handleDetachSectionGroup(c *gin.Context) {
	orgID := h.organization(c).ID
	section, err := h.kbService.DetachSectionFromGroup(c.Request.Context(), orgID, c.Param("sectionID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", section.ID)
	c.JSON(http.StatusOK, section)
}

func (h *httpHandler) handleListPhaseGroups(c *gin.Context) {
	groups, err := h.kbService.ListPhaseGroups(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phaseGroups": groups})
}

func (h *httpHandler) handleCreatePhaseGroup(c *gin.Context) {
	var request renamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	group, err := h.kbService.CreatePhaseGroup(c.Request.Context(), orgID, request.Name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "phase-groups", group.ID)
	c.JSON(http.StatusCreated, group)
}

func (h *httpHandler) handleRenamePhaseGroup(c *gin.Context) {
	var request renamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	group, err := h.kbService.RenamePhaseGroup(c.Request.Context(), orgID, c.Param("groupID"), request.Name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "phase-groups", group.ID)
	c.JSON(http.StatusOK, group)
}

func (h *httpHandler) handleDeletePhaseGroup(c *gin.Context) {
	orgID := h.organization(c).ID
	groupID := c.Param("groupID")
	if err := h.kbService.DeletePhaseGroup(c.Request.Context(), orgID, groupID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "phase-groups", groupID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderPhaseGroups(c *gin.Context) {
	var request reorderPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.OrderedIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	if err := h.kbService.ReorderPhaseGroups(c.Request.Context(), orgID, request.OrderedIDs); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "phase-groups", request.OrderedIDs...)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderSectionsInGroup(c *gin.Context) {
	var request reorderPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.OrderedIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	if err := h.kbService.ReorderSectionsInGroup(c.Request.Context(), orgID, c.Param("groupID"), request.OrderedIDs); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "sections", request.OrderedIDs...)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListFaqs(c *gin.Context) {
	faqs, err := h.kbService.ListFaqs(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faqs": faqs})
}

type faqBatchPayload struct {
	Upserts []kb.FaqUpsert `json:"upserts"`
	Deletes []string       `json:"deletes"`
}

func (h *httpHandler) handleFaqBatch(c *gin.Context) {
	var request faqBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(request.Upserts) == 0 && len(request.Deletes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_batch"})
		return
	}

	orgID := h.organization(c).ID
	result, err := h.kbService.ApplyFaqBatch(c.Request.Context(), orgID, request.Upserts, request.Deletes)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	touched := make([]string, 0, len(request.Upserts)+len(request.Deletes))
	for _, upsert := range request.Upserts {
		touched = append(touched, upsert.ID)
	}
	touched = append(touched, request.Deletes...)
	h.publishChange(orgID, "faqs", touched...)
	c.JSON(http.StatusOK, result)
}

type variablePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *httpHandler) handleListVariables(c *gin.Context) {
	variables, err := h.kbService.ListVariables(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variables": variables})
}

func (h *httpHandler) handleCreateVariable(c *gin.Context) {
	var request variablePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	variable, err := h.kbService.CreateVariable(c.Request.Context(), orgID, request.Key, request.Value)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "variables", variable.ID)
	c.JSON(http.StatusCreated, variable)
}

func (h *httpHandler) handleUpdateVariable(c *gin.Context) {
	var request variablePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	variable, err := h.kbService.UpdateVariable(c.Request.Context(), orgID, c.Param("variableID"), request.Key, request.Value)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "variables", variable.ID)
	c.JSON(http.StatusOK, variable)
}

func (h *httpHandler) handleDeleteVariable(c *gin.Context) {
	orgID := h.organization(c).ID
	variableID := c.Param("variableID")
	if err := h.kbService.DeleteVariable(c.Request.Context(), orgID, variableID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "variables", variableID)
	c.Status(http.StatusNoContent)
}

type customRulesPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleGetCustomRules(c *gin.Context) {
	rules, err := h.kbService.GetCustomRules(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *httpHandler) handleSaveCustomRules(c *gin.Context) {
	var request customRulesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	rules, err := h.kbService.SaveCustomRules(c.Request.Context(), orgID, request.Content, c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "custom-rules", rules.ID)
	c.JSON(http.StatusOK, rules)
}

func (h *httpHandler) handleCustomRulesHistory(c *gin.Context) {
	versions, err := h.kbService.CustomRulesHistory(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *httpHandler) handleRestoreCustomRules(c *gin.Context) {
	orgID := h.organization(c).ID
	rules, err := h.kbService.RestoreCustomRulesVersion(c.Request.Context(), orgID, c.Param("versionID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "custom-rules", rules.ID)
	c.JSON(http.StatusOK, rules)
}

type exportConfigPayload struct {
	Name   string           `json:"name"`
	Config kb.ExportOptions `json:"config"`
}

func (h *httpHandler) handleListExportConfigs(c *gin.Context) {
	configs, err := h.kbService.ListExportConfigs(c.Request.Context(), h.organization(c).ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exportConfigs": configs})
}

func (h *httpHandler) handleCreateExportConfig(c *gin.Context) {
	var request exportConfigPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	config, err := h.kbService.CreateExportConfig(c.Request.Context(), orgID, request.Name, request.Config)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "export-configs", config.ID)
	c.JSON(http.StatusCreated, config)
}

func (h *httpHandler) handleUpdateExportConfig(c *gin.Context) {
	var request exportConfigPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orgID := h.organization(c).ID
	config, err := h.kbService.UpdateExportConfig(c.Request.Context(), orgID, c.Param("configID"), request.Name, request.Config)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "export-configs", config.ID)
	c.JSON(http.StatusOK, config)
}

func (h *httpHandler) handleDeleteExportConfig(c *gin.Context) {
	orgID := h.organization(c).ID
	configID := c.Param("configID")
	if err := h.kbService.DeleteExportConfig(c.Request.Context(), orgID, configID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publishChange(orgID, "export-configs", configID)
	c.Status(http.StatusNoContent)
}

type exportRequestPayload struct {
	Config kb.ExportOptions `json:"config"`
}

type exportResponsePayload struct {
	Markdown string `json:"markdown"`
}

func (h *httpHandler) handleExport(c *gin.Context) {
	var request exportRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	orgID := h.organization(c).ID

	sections, err := h.kbService.ListSections(ctx, orgID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	groups, err := h.kbService.ListPhaseGroups(ctx, orgID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	faqs, err := h.kbService.ListFaqs(ctx, orgID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	document := export.Document{
		Sections:    sections,
		PhaseGroups: groups,
		FAQs:        faqs,
	}
	if request.Config.IncludeVariables {
		variables, err := h.kbService.ListVariables(ctx, orgID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		document.Variables = variables
	}
	if request.Config.IncludeCustomRules {
		rules, err := h.kbService.GetCustomRules(ctx, orgID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		document.CustomRules = rules.Content
	}

	c.JSON(http.StatusOK, exportResponsePayload{Markdown: export.Markdown(document, request.Config)})
}

type changeEventPayload struct {
	Source    string   `json:"source"`
	Entity    string   `json:"entity"`
	IDs       []string `json:"ids,omitempty"`
	Timestamp int64    `json:"timestamp_s"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	orgID := h.organization(c).ID
	ctx := c.Request.Context()

	stream, cancel := h.dispatcher.Subscribe(ctx, orgID)
	defer cancel()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			h.writeEvent(c, message.EventType, changeEventPayload{
				Source:    changeSourceBackend,
				Entity:    message.Entity,
				IDs:       message.IDs,
				Timestamp: message.Timestamp.Unix(),
			})
		case <-heartbeat.C:
			h.writeEvent(c, changeEventHeartbeat, changeEventPayload{
				Source:    changeSourceBackend,
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

func (h *httpHandler) writeEvent(c *gin.Context, eventType string, payload changeEventPayload) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := c.Writer.WriteString("event: " + eventType + "\ndata: " + string(encoded) + "\n\n"); err != nil {
		return
	}
	c.Writer.Flush()
}

func (h *httpHandler) publishChange(orgID, entity string, ids ...string) {
	h.dispatcher.Publish(ChangeMessage{
		OrgID:     orgID,
		EventType: ChangeEventKnowledgeBase,
		Entity:    entity,
		IDs:       ids,
		Timestamp: time.Now().UTC(),
	})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, kb.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, kb.ErrInvalidSection), errors.Is(err, kb.ErrInvalidPhaseGroup):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
	case errors.Is(err, kb.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
