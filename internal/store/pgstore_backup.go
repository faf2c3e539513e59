package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// ResolveSchedule implements the resolution order from §4.4: branch-level
// schedule, then (org, env_type), then org-level. First match wins.
func (s *PgStore) ResolveSchedule(ctx context.Context, branch *Branch) (*BackupSchedule, ScopeKind, error) {
	if sched, err := s.loadSchedule(ctx, `
		SELECT id, org_id, branch_id, env_type FROM backup_schedules WHERE branch_id = $1`,
		string(branch.ID)); err != nil {
		return nil, "", err
	} else if sched != nil {
		return sched, ScopeBranch, nil
	}

	project, err := s.GetProject(ctx, branch.ProjectID)
	if err != nil {
		return nil, "", err
	}

	if branch.EnvType != nil {
		if sched, err := s.loadSchedule(ctx, `
			SELECT id, org_id, branch_id, env_type FROM backup_schedules
			WHERE org_id = $1 AND branch_id IS NULL AND env_type = $2`,
			string(project.OrgID), string(*branch.EnvType)); err != nil {
			return nil, "", err
		} else if sched != nil {
			return sched, ScopeOrgEnv, nil
		}
	}

	sched, err := s.loadSchedule(ctx, `
		SELECT id, org_id, branch_id, env_type FROM backup_schedules
		WHERE org_id = $1 AND branch_id IS NULL AND env_type IS NULL`,
		string(project.OrgID))
	if err != nil {
		return nil, "", err
	}
	if sched == nil {
		return nil, "", nil
	}
	return sched, ScopeOrg, nil
}

func (s *PgStore) loadSchedule(ctx context.Context, query string, args ...any) (*BackupSchedule, error) {
	var (
		sched          BackupSchedule
		orgID, branchID, envType *string
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&sched.ID, &orgID, &branchID, &envType)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apierrors.Deployment("ResolveSchedule", err)
	}
	if orgID != nil {
		id := entityid.ID(*orgID)
		sched.OrgID = &id
	}
	if branchID != nil {
		id := entityid.ID(*branchID)
		sched.BranchID = &id
	}
	if envType != nil {
		et := EnvType(*envType)
		sched.EnvType = &et
	}

	rows, err := s.pool.Query(ctx, `
		SELECT row_index, interval, unit, retention FROM backup_schedule_rows
		WHERE schedule_id = $1 ORDER BY row_index`, sched.ID.String())
	if err != nil {
		return nil, apierrors.Deployment("ResolveSchedule", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r BackupScheduleRow
		if err := rows.Scan(&r.RowIndex, &r.Interval, &r.Unit, &r.Retention); err != nil {
			return nil, apierrors.Deployment("ResolveSchedule", err)
		}
		sched.Rows = append(sched.Rows, r)
	}
	return &sched, rows.Err()
}

func (s *PgStore) GetNextBackup(ctx context.Context, branchID entityid.ID, rowIndex int) (*NextBackup, error) {
	var nb NextBackup
	err := s.pool.QueryRow(ctx, `
		SELECT branch_id, schedule_id, row_index, next_at FROM next_backups
		WHERE branch_id = $1 AND row_index = $2`, string(branchID), rowIndex,
	).Scan(&nb.BranchID, &nb.ScheduleID, &nb.RowIndex, &nb.NextAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apierrors.Deployment("GetNextBackup", err)
	}
	return &nb, nil
}

func (s *PgStore) UpsertNextBackup(ctx context.Context, nb *NextBackup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO next_backups (branch_id, schedule_id, row_index, next_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (branch_id, row_index) DO UPDATE SET next_at = $4, schedule_id = $2`,
		string(nb.BranchID), string(nb.ScheduleID), nb.RowIndex, nb.NextAt)
	if err != nil {
		return apierrors.Deployment("UpsertNextBackup", err)
	}
	return nil
}

func (s *PgStore) DueNextBackups(ctx context.Context, before time.Time) ([]*NextBackup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT branch_id, schedule_id, row_index, next_at FROM next_backups WHERE next_at <= $1`,
		before)
	if err != nil {
		return nil, apierrors.Deployment("DueNextBackups", err)
	}
	defer rows.Close()

	var out []*NextBackup
	for rows.Next() {
		var nb NextBackup
		if err := rows.Scan(&nb.BranchID, &nb.ScheduleID, &nb.RowIndex, &nb.NextAt); err != nil {
			return nil, apierrors.Deployment("DueNextBackups", err)
		}
		out = append(out, &nb)
	}
	return out, rows.Err()
}

func (s *PgStore) InsertBackupEntry(ctx context.Context, entry *BackupEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_entries
			(id, branch_id, row_index, created_at, size_bytes, snapshot_uuid,
			 snapshot_name, snapshot_namespace, snapshot_content_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID.String(), string(entry.BranchID), entry.RowIndex, entry.CreatedAt,
		entry.SizeBytes, entry.SnapshotUUID, entry.Snapshot.Name, entry.Snapshot.Namespace,
		entry.Snapshot.ContentName)
	if err != nil {
		return apierrors.Deployment("InsertBackupEntry", err)
	}
	return nil
}

func (s *PgStore) AppendBackupLog(ctx context.Context, logEntry *BackupLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_logs (id, branch_id, backup_uuid, action, ts)
		VALUES ($1, $2, $3, $4, $5)`,
		entityid.New().String(), string(logEntry.BranchID), logEntry.BackupUUID.String(),
		string(logEntry.Action), logEntry.Timestamp)
	if err != nil {
		return apierrors.Deployment("AppendBackupLog", err)
	}
	return nil
}

func (s *PgStore) ListBackupEntries(ctx context.Context, branchID entityid.ID, rowIndex int) ([]*BackupEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, row_index, created_at, size_bytes, snapshot_uuid,
		       snapshot_name, snapshot_namespace, snapshot_content_name
		FROM backup_entries WHERE branch_id = $1 AND row_index = $2 ORDER BY created_at ASC`,
		string(branchID), rowIndex)
	if err != nil {
		return nil, apierrors.Deployment("ListBackupEntries", err)
	}
	defer rows.Close()
	return scanBackupEntries(rows)
}

func (s *PgStore) ListAllBackupEntries(ctx context.Context, branchID entityid.ID) ([]*BackupEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, row_index, created_at, size_bytes, snapshot_uuid,
		       snapshot_name, snapshot_namespace, snapshot_content_name
		FROM backup_entries WHERE branch_id = $1 ORDER BY created_at ASC`,
		string(branchID))
	if err != nil {
		return nil, apierrors.Deployment("ListAllBackupEntries", err)
	}
	defer rows.Close()
	return scanBackupEntries(rows)
}

func scanBackupEntries(rows pgx.Rows) ([]*BackupEntry, error) {
	var out []*BackupEntry
	for rows.Next() {
		var e BackupEntry
		if err := rows.Scan(&e.ID, &e.BranchID, &e.RowIndex, &e.CreatedAt, &e.SizeBytes,
			&e.SnapshotUUID, &e.Snapshot.Name, &e.Snapshot.Namespace, &e.Snapshot.ContentName); err != nil {
			return nil, apierrors.Deployment("ListBackupEntries", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteBackupEntry(ctx context.Context, id entityid.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backup_entries WHERE id = $1`, string(id))
	if err != nil {
		return apierrors.Deployment("DeleteBackupEntry", err)
	}
	return nil
}
