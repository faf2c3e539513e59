// Package snapshot implements C1: capturing CSI VolumeSnapshots,
// cross-namespace clone/restore, and materializing bound PVCs for new
// branches (§4.1).
package snapshot

import (
	"regexp"
	"strings"
	"time"
)

// maxNameLength is the Kubernetes object name length limit snapshot
// names must respect (§4.1, §6 "Snapshot naming contract").
const maxNameLength = 63

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRuns         = regexp.MustCompile(`-{2,}`)
)

// SanitizeLabel lowercases label, replaces any run of characters
// outside [a-z0-9-] with a single '-', collapses repeated dashes, and
// strips leading/trailing dashes (§4.1 "Naming determinism").
func SanitizeLabel(label string) string {
	lower := strings.ToLower(label)
	replaced := invalidNameChars.ReplaceAllString(lower, "-")
	collapsed := dashRuns.ReplaceAllString(replaced, "-")
	return strings.Trim(collapsed, "-")
}

// timestampFormat is the UTC YYYYMMDDHHMMSS format names embed.
const timestampFormat = "20060102150405"

// SnapshotName builds `<branchId>-<sanitized label>-<UTC timestamp>`,
// truncated to maxNameLength with any trailing dash stripped.
func SnapshotName(branchID, label string, at time.Time) string {
	name := strings.ToLower(branchID) + "-" + SanitizeLabel(label) + "-" + at.UTC().Format(timestampFormat)
	return truncateName(name)
}

// contentKind distinguishes the two VolumeSnapshotContent naming
// schemes used by the clone and restore flows (§4.1 "Naming
// determinism").
type contentKind string

const (
	contentKindCrossNamespace contentKind = "crossns"
	contentKindRestore        contentKind = "restore"
)

func contentName(kind contentKind, branchID string, at time.Time) string {
	name := "snapcontent-" + string(kind) + "-" + strings.ToLower(branchID) + "-" + at.UTC().Format(timestampFormat)
	return truncateName(name)
}

// CrossNamespaceContentName builds the VolumeSnapshotContent name used
// by CloneVolume.
func CrossNamespaceContentName(branchID string, at time.Time) string {
	return contentName(contentKindCrossNamespace, branchID, at)
}

// RestoreContentName builds the VolumeSnapshotContent name used by
// RestoreVolume.
func RestoreContentName(branchID string, at time.Time) string {
	return contentName(contentKindRestore, branchID, at)
}

func truncateName(name string) string {
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return strings.TrimRight(name, "-")
}

// nameContract is the regex the invariant in §8 property 3 checks
// generated names against: ^[a-z0-9][a-z0-9-]{0,62}$, no trailing dash.
var nameContract = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidName reports whether name satisfies the snapshot naming
// contract (§8 invariant 3).
func ValidName(name string) bool {
	return nameContract.MatchString(name) && !strings.HasSuffix(name, "-")
}
