package org

import (
	"strings"
	"time"
)

// Role enumerates membership roles within an organization.
type Role string

const (
	// RoleAdmin may read and mutate everything in the organization scope.
	RoleAdmin Role = "admin"
	// RoleMember may read organization content but not mutate it.
	RoleMember Role = "member"
)

// CanWrite reports whether the role permits mutation of organization content.
func (r Role) CanWrite() bool {
	return r == RoleAdmin
}

// Organization is the tenant boundary for all knowledge-base content.
type Organization struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;type:text;not null"`
	Slug      string    `gorm:"column:slug;size:190;not null;uniqueIndex:idx_organizations_slug"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing organizations.
func (Organization) TableName() string {
	return "organizations"
}

// User is an authenticated account that may belong to several organizations.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	Name         string    `gorm:"column:name;size:320;not null;default:''"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Membership binds a user to an organization with a role.
type Membership struct {
	OrgID     string    `gorm:"column:org_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_memberships_user"`
	Role      Role      `gorm:"column:role;size:32;not null;default:'member'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing organization memberships.
func (Membership) TableName() string {
	return "org_memberships"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
