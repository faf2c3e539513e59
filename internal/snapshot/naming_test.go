package snapshot

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"Nightly Backup!!":  "nightly-backup",
		"---leading-trail--": "leading-trail",
		"a__b__c":            "a-b-c",
		"already-ok":         "already-ok",
	}
	for in, want := range cases {
		if got := SanitizeLabel(in); got != want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnapshotNameMatchesContract(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	name := SnapshotName("01ARZ3NDEKTSV4RRFFQ69G5FAV", "Nightly Backup", at)

	if !ValidName(name) {
		t.Fatalf("generated name %q does not satisfy naming contract", name)
	}
	if !strings.Contains(name, "20240301120000") {
		t.Fatalf("expected timestamp in name, got %q", name)
	}
}

func TestSnapshotNameTruncatedAndNoTrailingDash(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	longLabel := strings.Repeat("a-very-long-label-segment-", 5)
	name := SnapshotName("01ARZ3NDEKTSV4RRFFQ69G5FAV", longLabel, at)

	if len(name) > maxNameLength {
		t.Fatalf("name %q exceeds %d bytes", name, maxNameLength)
	}
	if strings.HasSuffix(name, "-") {
		t.Fatalf("name %q has trailing dash", name)
	}
	if !ValidName(name) {
		t.Fatalf("truncated name %q does not satisfy naming contract", name)
	}
}

func TestContentNames(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cross := CrossNamespaceContentName("01ARZ3NDEKTSV4RRFFQ69G5FAV", at)
	restore := RestoreContentName("01ARZ3NDEKTSV4RRFFQ69G5FAV", at)

	if !strings.HasPrefix(cross, "snapcontent-crossns-") {
		t.Errorf("got %q, want snapcontent-crossns- prefix", cross)
	}
	if !strings.HasPrefix(restore, "snapcontent-restore-") {
		t.Errorf("got %q, want snapcontent-restore- prefix", restore)
	}
	if !ValidName(cross) || !ValidName(restore) {
		t.Errorf("content names must satisfy naming contract: %q %q", cross, restore)
	}
}

func TestValidNameRejectsUppercaseAndTrailingDash(t *testing.T) {
	if ValidName("Invalid-Name") {
		t.Errorf("expected uppercase name to be rejected")
	}
	if ValidName("trailing-dash-") {
		t.Errorf("expected trailing dash to be rejected")
	}
	if ValidName("") {
		t.Errorf("expected empty name to be rejected")
	}
}
