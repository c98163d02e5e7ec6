package org

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials indicates the email/password pair did not match an account.
	ErrInvalidCredentials = errors.New("org: invalid credentials")
	// ErrNotMember indicates the user has no membership in the organization.
	ErrNotMember = errors.New("org: not a member")
	// ErrForbidden indicates the membership role does not permit the operation.
	ErrForbidden = errors.New("org: write access requires the admin role")
	// ErrUnknownOrganization indicates no organization carries the given slug.
	ErrUnknownOrganization = errors.New("org: unknown organization")
)

// ServiceConfig describes the dependencies for account and membership resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// IDProvider generates identifiers for newly created accounts and organizations.
type IDProvider interface {
	NewID() (string, error)
}

// Service manages user accounts, organizations, and membership role checks.
type Service struct {
	db        *gorm.DB
	now       func() time.Time
	ids       IDProvider
	slugCache sync.Map
	roleCache sync.Map
}

// NewService constructs the organization service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("org: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("org: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
		ids: cfg.IDProvider,
	}, nil
}

// Authenticate verifies an email/password pair and returns the account.
func (s *Service) Authenticate(email, password string) (User, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var account User
	err := s.db.Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}

	_ = s.db.Model(&User{}).
		Where("id = ?", account.ID).
		Update("last_seen_at", s.now()).Error
	return account, nil
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Service) CreateUser(email, name, password string) (User, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" {
		return User{}, fmt.Errorf("org: email required")
	}
	if password == "" {
		return User{}, fmt.Errorf("org: password required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return User{}, err
	}
	account := User{
		ID:           id,
		Email:        normalizedEmail,
		Name:         normalize(name),
		PasswordHash: string(hash),
	}
	if err := s.db.Create(&account).Error; err != nil {
		return User{}, err
	}
	return account, nil
}

// CreateOrganization registers a tenant with a unique slug.
func (s *Service) CreateOrganization(name, slug string) (Organization, error) {
	trimmedName := normalize(name)
	normalizedSlug := strings.ToLower(normalize(slug))
	if trimmedName == "" || normalizedSlug == "" {
		return Organization{}, fmt.Errorf("org: name and slug required")
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Organization{}, err
	}
	organization := Organization{
		ID:   id,
		Name: trimmedName,
		Slug: normalizedSlug,
	}
	if err := s.db.Create(&organization).Error; err != nil {
		return Organization{}, err
	}
	return organization, nil
}

// AddMember binds a user to an organization, upserting the role.
func (s *Service) AddMember(orgID, userID string, role Role) error {
	membership := Membership{OrgID: orgID, UserID: userID, Role: role}
	err := s.db.Save(&membership).Error
	if err == nil {
		s.roleCache.Store(orgID+":"+userID, role)
	}
	return err
}

// ResolveBySlug returns the organization carrying the given slug.
func (s *Service) ResolveBySlug(slug string) (Organization, error) {
	normalizedSlug := strings.ToLower(normalize(slug))
	if cached, ok := s.slugCache.Load(normalizedSlug); ok {
		if organization, ok := cached.(Organization); ok {
			return organization, nil
		}
	}

	var organization Organization
	err := s.db.Where("slug = ?", normalizedSlug).Take(&organization).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Organization{}, ErrUnknownOrganization
	}
	if err != nil {
		return Organization{}, err
	}
	s.slugCache.Store(normalizedSlug, organization)
	return organization, nil
}

// RoleFor returns the user's role in the organization, or ErrNotMember.
func (s *Service) RoleFor(orgID, userID string) (Role, error) {
	cacheKey := orgID + ":" + userID
	if cached, ok := s.roleCache.Load(cacheKey); ok {
		if role, ok := cached.(Role); ok {
			return role, nil
		}
	}

	var membership Membership
	err := s.db.Where("org_id = ? AND user_id = ?", orgID, userID).Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", err
	}
	s.roleCache.Store(cacheKey, membership.Role)
	return membership.Role, nil
}

// RequireWriter returns the role when it permits mutation, ErrForbidden otherwise.
func (s *Service) RequireWriter(orgID, userID string) (Role, error) {
	role, err := s.RoleFor(orgID, userID)
	if err != nil {
		return "", err
	}
	if !role.CanWrite() {
		return role, ErrForbidden
	}
	return role, nil
}

// OrganizationMembership pairs an organization with the caller's role in it.
type OrganizationMembership struct {
	Organization Organization
	Role         Role
}

// OrganizationsFor returns the caller's organizations ordered by name.
func (s *Service) OrganizationsFor(userID string) ([]OrganizationMembership, error) {
	var memberships []Membership
	if err := s.db.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	orgIDs := make([]string, 0, len(memberships))
	roleByOrg := make(map[string]Role, len(memberships))
	for _, membership := range memberships {
		orgIDs = append(orgIDs, membership.OrgID)
		roleByOrg[membership.OrgID] = membership.Role
	}

	var organizations []Organization
	if err := s.db.Where("id IN ?", orgIDs).Order("name ASC").Find(&organizations).Error; err != nil {
		return nil, err
	}

	out := make([]OrganizationMembership, 0, len(organizations))
	for _, organization := range organizations {
		out = append(out, OrganizationMembership{
			Organization: organization,
			Role:         roleByOrg[organization.ID],
		})
	}
	return out, nil
}
