package store

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaDeclaresCoreTables(t *testing.T) {
	for _, table := range []string{
		"organizations", "projects", "branches", "backup_schedules",
		"backup_schedule_rows", "next_backups", "backup_entries", "backup_logs",
		"resource_limits", "branch_provisioning", "resource_usage_minutes",
	} {
		if !strings.Contains(Schema, table) {
			t.Errorf("schema missing table %q", table)
		}
	}
}

func TestResizeStatusesJSONToleratesUnknownKeys(t *testing.T) {
	// Readers must tolerate older schema keys (§9): an extra field from
	// a prior version should not break unmarshaling into the current
	// map shape.
	raw := []byte(`{"database_disk_resize": {"status": "PENDING", "timestamp": "2024-01-01T00:00:00Z", "legacy_field": "ignored"}}`)

	var statuses map[string]ServiceResizeState
	if err := json.Unmarshal(raw, &statuses); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if statuses["database_disk_resize"].Status != ResizePending {
		t.Fatalf("got %v, want PENDING", statuses["database_disk_resize"].Status)
	}
}
