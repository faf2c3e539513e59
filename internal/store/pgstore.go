package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// PgStore is the jackc/pgx/v5-backed implementation of the repository
// interfaces, matching the teacher's preference for a typed pool over
// an ORM and the pack's common choice of pgx/v5 for this domain
// (see DESIGN.md).
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an already-configured pool. Callers build the pool
// (DSN, TLS, pool size) via pgxpool.NewWithConfig themselves, since that
// configuration belongs to internal/configuration, not this package.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Schema is the bootstrap DDL for a fresh environment. SQL migration
// tooling itself is out of scope (§1 Non-goals); this is only the
// shape the rest of the package assumes.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	locked BOOLEAN NOT NULL DEFAULT FALSE,
	max_backups INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	max_backups INT NOT NULL DEFAULT 0,
	UNIQUE (org_id, name)
);

CREATE TABLE IF NOT EXISTS branches (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	parent_id TEXT REFERENCES branches(id) ON DELETE SET NULL,
	env_type TEXT,
	database TEXT NOT NULL,
	database_user TEXT NOT NULL,
	database_password TEXT NOT NULL,
	database_size_bytes BIGINT NOT NULL,
	storage_size_bytes BIGINT,
	milli_vcpu BIGINT NOT NULL,
	memory_bytes BIGINT NOT NULL,
	iops BIGINT NOT NULL,
	database_image_tag TEXT NOT NULL,
	enable_file_storage BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	status_updated_at TIMESTAMPTZ NOT NULL,
	resize_status TEXT NOT NULL DEFAULT 'NONE',
	resize_statuses JSONB NOT NULL DEFAULT '{}',
	resource_usage JSONB NOT NULL DEFAULT '{}',
	jwt_secret TEXT NOT NULL,
	anon_key TEXT NOT NULL,
	service_key TEXT NOT NULL,
	pgbouncer_admin_password TEXT NOT NULL,
	pitr_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS backup_schedules (
	id TEXT PRIMARY KEY,
	org_id TEXT REFERENCES organizations(id) ON DELETE CASCADE,
	branch_id TEXT REFERENCES branches(id) ON DELETE CASCADE,
	env_type TEXT,
	UNIQUE (org_id, branch_id, env_type)
);

CREATE TABLE IF NOT EXISTS backup_schedule_rows (
	schedule_id TEXT NOT NULL REFERENCES backup_schedules(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	interval INT NOT NULL,
	unit TEXT NOT NULL,
	retention INT NOT NULL,
	PRIMARY KEY (schedule_id, row_index),
	UNIQUE (schedule_id, interval, unit)
);

CREATE TABLE IF NOT EXISTS next_backups (
	branch_id TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	schedule_id TEXT NOT NULL REFERENCES backup_schedules(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	next_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (branch_id, row_index)
);

CREATE TABLE IF NOT EXISTS backup_entries (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	size_bytes BIGINT NOT NULL,
	snapshot_uuid TEXT NOT NULL,
	snapshot_name TEXT NOT NULL,
	snapshot_namespace TEXT NOT NULL,
	snapshot_content_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_logs (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	backup_uuid TEXT NOT NULL,
	action TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_limits (
	entity_type TEXT NOT NULL,
	organization_id TEXT,
	project_id TEXT,
	env_type TEXT,
	resource TEXT NOT NULL,
	max_total BIGINT,
	max_per_branch BIGINT
);

CREATE UNIQUE INDEX IF NOT EXISTS resource_limits_system_uniq
	ON resource_limits (resource) WHERE entity_type = 'system';
CREATE UNIQUE INDEX IF NOT EXISTS resource_limits_org_uniq
	ON resource_limits (organization_id, resource) WHERE entity_type = 'org';
CREATE UNIQUE INDEX IF NOT EXISTS resource_limits_project_uniq
	ON resource_limits (organization_id, project_id, env_type, resource) WHERE entity_type = 'project';

CREATE TABLE IF NOT EXISTS branch_provisioning (
	branch_id TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	resource TEXT NOT NULL,
	amount BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (branch_id, resource)
);

CREATE TABLE IF NOT EXISTS provisioning_logs (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL,
	resource TEXT NOT NULL,
	amount BIGINT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_usage_minutes (
	ts_minute TIMESTAMPTZ NOT NULL,
	org_id TEXT,
	project_id TEXT,
	original_project_id TEXT NOT NULL,
	branch_id TEXT,
	original_branch_id TEXT NOT NULL,
	resource TEXT NOT NULL,
	amount BIGINT NOT NULL
);
`

// Bootstrap creates the schema if it does not already exist.
func (s *PgStore) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return apierrors.New(apierrors.KindDeployment, "Bootstrap", "creating schema", err)
	}
	return nil
}

func (s *PgStore) GetBranch(ctx context.Context, id entityid.ID) (*Branch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, parent_id, env_type, database, database_user,
		       database_password, database_size_bytes, storage_size_bytes, milli_vcpu,
		       memory_bytes, iops, database_image_tag, enable_file_storage, status,
		       status_updated_at, resize_status, resize_statuses, resource_usage,
		       jwt_secret, anon_key, service_key, pgbouncer_admin_password,
		       pitr_enabled, created_at
		FROM branches WHERE id = $1`, string(id))

	b, err := scanBranch(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierrors.NotFound("GetBranch", fmt.Sprintf("branch %s", id))
		}
		return nil, apierrors.Deployment("GetBranch", err)
	}
	return b, nil
}

func scanBranch(row pgx.Row) (*Branch, error) {
	var (
		b                  Branch
		parentID           *string
		envType            *string
		resizeStatusesJSON []byte
		resourceUsageJSON  []byte
	)
	if err := row.Scan(
		&b.ID, &b.ProjectID, &b.Name, &parentID, &envType, &b.Database, &b.DBUser,
		&b.DBPasswordEnvelope, &b.DatabaseSizeBytes, &b.StorageSizeBytes, &b.MilliVCPU,
		&b.MemoryBytes, &b.IOPS, &b.DatabaseImageTag, &b.EnableFileStorage, &b.Status,
		&b.StatusUpdatedAt, &b.ResizeStatus, &resizeStatusesJSON, &resourceUsageJSON,
		&b.JWTSecret, &b.AnonKey, &b.ServiceKey, &b.PgbouncerAdminPassword,
		&b.PITREnabled, &b.CreatedAt,
	); err != nil {
		return nil, err
	}

	if parentID != nil {
		id := entityid.ID(*parentID)
		b.ParentID = &id
	}
	if envType != nil {
		et := EnvType(*envType)
		b.EnvType = &et
	}

	// Readers must tolerate older schema keys (§9, "JSON columns") —
	// unmarshal into the current shape and silently drop anything that
	// no longer parses rather than failing the read.
	b.ResizeStatuses = map[string]ServiceResizeState{}
	if len(resizeStatusesJSON) > 0 {
		_ = json.Unmarshal(resizeStatusesJSON, &b.ResizeStatuses)
	}
	b.ResourceUsage = map[Resource]int64{}
	if len(resourceUsageJSON) > 0 {
		_ = json.Unmarshal(resourceUsageJSON, &b.ResourceUsage)
	}

	return &b, nil
}

func (s *PgStore) ListBranchesByStatus(ctx context.Context, status BranchStatus) ([]*Branch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, parent_id, env_type, database, database_user,
		       database_password, database_size_bytes, storage_size_bytes, milli_vcpu,
		       memory_bytes, iops, database_image_tag, enable_file_storage, status,
		       status_updated_at, resize_status, resize_statuses, resource_usage,
		       jwt_secret, anon_key, service_key, pgbouncer_admin_password,
		       pitr_enabled, created_at
		FROM branches WHERE status = $1`, string(status))
	if err != nil {
		return nil, apierrors.Deployment("ListBranchesByStatus", err)
	}
	defer rows.Close()

	var out []*Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, apierrors.Deployment("ListBranchesByStatus", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateBranchStatus(ctx context.Context, id entityid.ID, status BranchStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE branches SET status = $1, status_updated_at = $2 WHERE id = $3 AND status_updated_at <= $2`,
		string(status), at, string(id))
	if err != nil {
		return apierrors.Deployment("UpdateBranchStatus", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.NotFound("UpdateBranchStatus", fmt.Sprintf("branch %s", id))
	}
	return nil
}

func (s *PgStore) UpdateBranchResizeStatuses(ctx context.Context, id entityid.ID, statuses map[string]ServiceResizeState, aggregate ResizeStatus) error {
	payload, err := json.Marshal(statuses)
	if err != nil {
		return apierrors.New(apierrors.KindValidation, "UpdateBranchResizeStatuses", "marshaling resize_statuses", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE branches SET resize_statuses = $1, resize_status = $2 WHERE id = $3`,
		payload, string(aggregate), string(id))
	if err != nil {
		return apierrors.Deployment("UpdateBranchResizeStatuses", err)
	}
	if tag.RowsAffected() == 0 {
		return apierrors.NotFound("UpdateBranchResizeStatuses", fmt.Sprintf("branch %s", id))
	}
	return nil
}

func (s *PgStore) UpdateBranchAllocatedStorage(ctx context.Context, id entityid.ID, databaseSize, storageSize *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE branches SET
			database_size_bytes = COALESCE($1, database_size_bytes),
			storage_size_bytes  = COALESCE($2, storage_size_bytes)
		WHERE id = $3`, databaseSize, storageSize, string(id))
	if err != nil {
		return apierrors.Deployment("UpdateBranchAllocatedStorage", err)
	}
	return nil
}

func (s *PgStore) UpdateBranchAllocatedCompute(ctx context.Context, id entityid.ID, milliVCPU, memoryBytes, iops *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE branches SET
			milli_vcpu   = COALESCE($1, milli_vcpu),
			memory_bytes = COALESCE($2, memory_bytes),
			iops         = COALESCE($3, iops)
		WHERE id = $4`, milliVCPU, memoryBytes, iops, string(id))
	if err != nil {
		return apierrors.Deployment("UpdateBranchAllocatedCompute", err)
	}
	return nil
}

func (s *PgStore) GetProject(ctx context.Context, id entityid.ID) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, max_backups FROM projects WHERE id = $1`, string(id),
	).Scan(&p.ID, &p.OrgID, &p.Name, &p.MaxBackups)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierrors.NotFound("GetProject", fmt.Sprintf("project %s", id))
		}
		return nil, apierrors.Deployment("GetProject", err)
	}
	return &p, nil
}

func (s *PgStore) GetOrganization(ctx context.Context, id entityid.ID) (*Organization, error) {
	var o Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, locked, max_backups FROM organizations WHERE id = $1`, string(id),
	).Scan(&o.ID, &o.Name, &o.Locked, &o.MaxBackups)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierrors.NotFound("GetOrganization", fmt.Sprintf("organization %s", id))
		}
		return nil, apierrors.Deployment("GetOrganization", err)
	}
	return &o, nil
}

func (s *PgStore) GetResourceLimit(ctx context.Context, entity EntityType, orgID, projectID *entityid.ID, envType *EnvType, resource Resource) (*ResourceLimit, error) {
	var (
		rl ResourceLimit
		org, proj, env *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT entity_type, organization_id, project_id, env_type, resource, max_total, max_per_branch
		FROM resource_limits
		WHERE entity_type = $1
		  AND organization_id IS NOT DISTINCT FROM $2
		  AND project_id IS NOT DISTINCT FROM $3
		  AND env_type IS NOT DISTINCT FROM $4
		  AND resource = $5`,
		string(entity), idOrNil(orgID), idOrNil(projectID), envOrNil(envType), string(resource),
	).Scan(&rl.EntityType, &org, &proj, &env, &rl.Resource, &rl.MaxTotal, &rl.MaxPerBranch)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apierrors.Deployment("GetResourceLimit", err)
	}
	rl.OrgID, rl.ProjectID = org, proj
	if env != nil {
		et := EnvType(*env)
		rl.EnvType = &et
	}
	return &rl, nil
}

func idOrNil(id *entityid.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func envOrNil(e *EnvType) *string {
	if e == nil {
		return nil
	}
	s := string(*e)
	return &s
}

func (s *PgStore) SumOrgProvisioning(ctx context.Context, orgID entityid.ID, resource Resource) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(bp.amount), 0)
		FROM branch_provisioning bp
		JOIN branches b ON b.id = bp.branch_id
		JOIN projects p ON p.id = b.project_id
		WHERE p.org_id = $1 AND bp.resource = $2`,
		string(orgID), string(resource)).Scan(&total)
	if err != nil {
		return 0, apierrors.Deployment("SumOrgProvisioning", err)
	}
	return total, nil
}

func (s *PgStore) SumProjectProvisioning(ctx context.Context, projectID entityid.ID, resource Resource) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(bp.amount), 0)
		FROM branch_provisioning bp
		JOIN branches b ON b.id = bp.branch_id
		WHERE b.project_id = $1 AND bp.resource = $2`,
		string(projectID), string(resource)).Scan(&total)
	if err != nil {
		return 0, apierrors.Deployment("SumProjectProvisioning", err)
	}
	return total, nil
}

func (s *PgStore) GetBranchProvisioning(ctx context.Context, branchID entityid.ID) (map[Resource]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT resource, amount FROM branch_provisioning WHERE branch_id = $1`, string(branchID))
	if err != nil {
		return nil, apierrors.Deployment("GetBranchProvisioning", err)
	}
	defer rows.Close()

	out := map[Resource]int64{}
	for rows.Next() {
		var r Resource
		var amount int64
		if err := rows.Scan(&r, &amount); err != nil {
			return nil, apierrors.Deployment("GetBranchProvisioning", err)
		}
		out[r] = amount
	}
	return out, rows.Err()
}

func (s *PgStore) UpsertBranchProvisioning(ctx context.Context, branchID entityid.ID, resource Resource, amount int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierrors.Deployment("UpsertBranchProvisioning", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO branch_provisioning (branch_id, resource, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (branch_id, resource) DO UPDATE SET amount = $3, updated_at = now()`,
		string(branchID), string(resource), amount)
	if err != nil {
		return apierrors.Deployment("UpsertBranchProvisioning", err)
	}

	action := ProvisioningActionCreate
	if tag.RowsAffected() > 0 {
		action = ProvisioningActionUpdate
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO provisioning_logs (id, branch_id, resource, amount, action, reason, ts)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		entityid.New().String(), string(branchID), string(resource), amount, string(action), reason,
	); err != nil {
		return apierrors.Deployment("UpsertBranchProvisioning", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apierrors.Deployment("UpsertBranchProvisioning", err)
	}
	return nil
}
