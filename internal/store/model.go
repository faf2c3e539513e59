// Package store models the relational metadata described in the data
// model (organizations, projects, branches, schedules, quotas) and the
// repository interfaces the reconciliation components use to read and
// mutate it.
package store

import (
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// Organization is the top-level tenant.
type Organization struct {
	ID         entityid.ID
	Name       string
	Locked     bool
	MaxBackups int
}

// Project groups branches under an Organization, unique on (OrgID, Name).
type Project struct {
	ID         entityid.ID
	OrgID      entityid.ID
	Name       string
	MaxBackups int
}

// EnvType distinguishes deployment environments a schedule or branch
// may be scoped to (e.g. "production", "preview").
type EnvType string

// DatabaseImageTag is a finite enum of supported Postgres image
// versions, validated against KnownImageTags.
type DatabaseImageTag string

// Branch is an isolated Postgres environment inside a Project.
type Branch struct {
	ID         entityid.ID
	ProjectID  entityid.ID
	Name       string
	ParentID   *entityid.ID
	EnvType    *EnvType
	Database   string
	DBUser     string
	// DBPasswordEnvelope is the AES-256-CBC envelope produced by
	// internal/crypto, never the plaintext password.
	DBPasswordEnvelope string
	// DBPasswordPassphrase is the per-row random passphrase that frames
	// DBPasswordEnvelope (§6 "Crypto framing"). Legacy rows predating
	// the passphrase-framed format leave this empty.
	DBPasswordPassphrase string

	DatabaseSizeBytes int64
	StorageSizeBytes  *int64
	MilliVCPU         int64
	MemoryBytes       int64
	IOPS              int64
	DatabaseImageTag  DatabaseImageTag

	EnableFileStorage bool

	Status          BranchStatus
	StatusUpdatedAt time.Time

	ResizeStatus  ResizeStatus
	ResizeStatuses map[string]ServiceResizeState

	ResourceUsage map[Resource]int64

	JWTSecret                string
	AnonKey                  string
	ServiceKey               string
	PgbouncerAdminPassword   string // encrypted envelope

	PITREnabled bool
	CreatedAt   time.Time
}

// IsMain reports whether this is the project's undeletable default
// branch.
func (b *Branch) IsMain() bool {
	return b.Name == "main"
}

// PgbouncerConfig is a 1:1 owned record for a Branch.
type PgbouncerConfig struct {
	BranchID      entityid.ID
	PoolSize      int
	MaxClientConn int
	ServerTimeout time.Duration
	ClientTimeout time.Duration
}

// DefaultPgbouncerConfig mirrors the original implementation's
// connection-pool defaults for a freshly provisioned branch.
func DefaultPgbouncerConfig(branchID entityid.ID) PgbouncerConfig {
	return PgbouncerConfig{
		BranchID:      branchID,
		PoolSize:      20,
		MaxClientConn: 200,
		ServerTimeout: 30 * time.Second,
		ClientTimeout: 30 * time.Second,
	}
}

// APIKeyRole is the role a BranchApiKey is minted for.
type APIKeyRole string

const (
	APIKeyRoleAnon    APIKeyRole = "anon"
	APIKeyRoleService APIKeyRole = "service_role"
)

// BranchApiKey is unique on (BranchID, Name).
type BranchApiKey struct {
	BranchID    entityid.ID
	Name        string
	Role        APIKeyRole
	APIKeyEnvelope string
	Description *string
}

// RBAC scaffolding: shape-only, no authorization logic lives here.

type Role struct {
	ID   entityid.ID
	Name string
}

type AccessRight struct {
	ID   entityid.ID
	Name string
}

type RoleAccessRight struct {
	RoleID        entityid.ID
	AccessRightID entityid.ID
}

type RoleUserLink struct {
	RoleID entityid.ID
	UserID string
}
