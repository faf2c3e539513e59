// Package configuration contains the configuration of the control plane,
// read from environment variables and an optional YAML overlay file.
package configuration

import (
	"context"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

const (
	// DefaultVolumeSnapshotClassName is used when a branch's project does
	// not override the snapshot class.
	DefaultVolumeSnapshotClassName = "vela-csi-snapclass"

	// DefaultStorageClassName is the fallback StorageClass for PVCs this
	// module creates directly (clone/restore targets, §4.1).
	DefaultStorageClassName = "vela-csi"

	// DefaultResizeSweepSchedule is C3's timeout-sweeper cron cadence (§4.3).
	DefaultResizeSweepSchedule = "@every 15s"

	// DefaultBackupTickSchedule is C4's tick cron cadence (§4.4).
	DefaultBackupTickSchedule = "@every 60s"
)

// Data is the control plane configuration. The running process holds
// one instance in the package-level Current, which the command packages
// read directly (component constructors do not take a Data); the
// controller subcommand overwrites Current.MetricsBindAddress when its
// --metrics-bind-address flag is set.
type Data struct {
	// NamespacePrefix names the per-branch Kubernetes namespace
	// ("<prefix>-<branch-id>"), configurable so staging and production
	// deployments of the control plane don't collide.
	NamespacePrefix string `env:"NAMESPACE_PREFIX"`

	// WatchNamespace restricts the manager's informers to a comma
	// separated namespace list; empty means cluster-wide, matching the
	// teacher's WATCH_NAMESPACE convention.
	WatchNamespace string `env:"WATCH_NAMESPACE"`

	// VolumeSnapshotClassName is the default CSI VolumeSnapshotClass
	// used by C1 when a branch doesn't specify one.
	VolumeSnapshotClassName string `env:"VOLUME_SNAPSHOT_CLASS_NAME"`

	// StorageClassName is the default StorageClass for PVCs created
	// outside the CSI driver's own provisioning path.
	StorageClassName string `env:"STORAGE_CLASS_NAME"`

	// VirtualMachineGroup/Version/Resource address the unstructured
	// vm.neon.tech VirtualMachine CRD that C3 patches (no typed client
	// for it exists).
	VirtualMachineGroup    string `env:"VIRTUALMACHINE_GROUP"`
	VirtualMachineVersion  string `env:"VIRTUALMACHINE_VERSION"`
	VirtualMachineResource string `env:"VIRTUALMACHINE_RESOURCE"`

	// ResizeSweepSchedule and BackupTickSchedule are cron.ParseStandard
	// expressions driving the C3 sweeper and C4 scheduler wake loops.
	ResizeSweepSchedule string `env:"RESIZE_SWEEP_SCHEDULE"`
	BackupTickSchedule  string `env:"BACKUP_TICK_SCHEDULE"`

	// SnapshotReadyTimeoutSeconds/PollIntervalSeconds parameterize
	// internal/snapshot's Deadlines (§4.1 "Poll ... until ready or
	// timeout").
	SnapshotReadyTimeoutSeconds int `env:"SNAPSHOT_READY_TIMEOUT_SECONDS"`
	SnapshotPollIntervalSeconds int `env:"SNAPSHOT_POLL_INTERVAL_SECONDS"`

	// DatabaseDSN is the Postgres connection string for internal/store's
	// PgStore (metadata database, §3 — distinct from the tenant branch
	// databases this control plane manages).
	DatabaseDSN string `env:"DATABASE_DSN"`

	// MetricsBindAddress is where the controller subcommand serves the
	// metrics registry (the controller-runtime manager's own metrics
	// endpoint is disabled); HealthProbeBindAddress configures the
	// manager's health probes.
	MetricsBindAddress     string `env:"METRICS_BIND_ADDRESS"`
	HealthProbeBindAddress string `env:"HEALTH_PROBE_BIND_ADDRESS"`

	// LeaderElection enables controller-runtime leader election so only
	// one replica of the controller subcommand runs reconciliation.
	LeaderElection bool `env:"LEADER_ELECTION"`

	// StorageBackendURL and StorageBackendAPIKey address the external
	// storage control plane C3 calls to propagate IOPS changes
	// (§4.3 "propagate to the storage backend (external interface)").
	StorageBackendURL    string `env:"STORAGE_BACKEND_URL"`
	StorageBackendAPIKey string `env:"STORAGE_BACKEND_API_KEY"`

	// MemorySlotSizeBytes and MemoryMaxSlots parameterize C3's guest
	// memory hot-add layout (§4.3 "patch VM guest memory slots").
	MemorySlotSizeBytes int64 `env:"MEMORY_SLOT_SIZE_BYTES"`
	MemoryMaxSlots      int64 `env:"MEMORY_MAX_SLOTS"`
}

// Current is the configuration used by the running process.
var Current = NewConfiguration()

func newDefaultConfig() *Data {
	return &Data{
		NamespacePrefix:             "vela-branch",
		VolumeSnapshotClassName:     DefaultVolumeSnapshotClassName,
		StorageClassName:            DefaultStorageClassName,
		VirtualMachineGroup:         "vm.neon.tech",
		VirtualMachineVersion:       "v1",
		VirtualMachineResource:      "virtualmachines",
		ResizeSweepSchedule:         DefaultResizeSweepSchedule,
		BackupTickSchedule:          DefaultBackupTickSchedule,
		SnapshotReadyTimeoutSeconds: 600,
		SnapshotPollIntervalSeconds: 2,
		MetricsBindAddress:          ":8080",
		HealthProbeBindAddress:      ":8081",
		LeaderElection:              false,
		MemorySlotSizeBytes:         1 << 30, // 1Gi
		MemoryMaxSlots:              16,
	}
}

// NewConfiguration builds a configuration by layering defaults then the
// process environment.
func NewConfiguration() *Data {
	config := newDefaultConfig()
	config.ReadEnvironment(os.Environ)
	return config
}

// ReadEnvironment overlays environment variables named by each field's
// `env` tag onto config, leaving fields whose variable is unset at their
// current (default) value. environ is injectable for testing.
func (config *Data) ReadEnvironment(environ func() []string) {
	lookup := map[string]string{}
	for _, kv := range environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			lookup[kv[:idx]] = kv[idx+1:]
		}
	}

	v := reflect.ValueOf(config).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup[name]
		if !ok {
			continue
		}
		setField(v.Field(i), raw)
	}
}

// ReadOverlayFile merges a YAML document at path onto config: any key
// present in the file overrides the corresponding field, matching the
// optional ConfigMap overlay the teacher supports for its own Data
// struct. Missing files are not an error — an overlay is optional.
func (config *Data) ReadOverlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	overlay := map[string]yaml.Node{}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return err
	}

	v := reflect.ValueOf(config).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("yaml")
		if key == "" {
			key = strings.ToLower(t.Field(i).Name)
		}
		node, ok := overlay[key]
		if !ok {
			continue
		}
		var val string
		if err := node.Decode(&val); err == nil {
			setField(v.Field(i), val)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if parsed, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(parsed)
		}
	case reflect.Int, reflect.Int64:
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(parsed)
		}
	}
}

// WatchedNamespaces returns the comma-separated WatchNamespace value as a
// clean list, empty meaning "watch every namespace".
func (config *Data) WatchedNamespaces() []string {
	parts := strings.Split(config.WatchNamespace, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SnapshotReadyTimeout and SnapshotPollInterval convert the configured
// second counts into time.Duration for internal/snapshot.Deadlines.
func (config *Data) SnapshotReadyTimeout() time.Duration {
	return time.Duration(config.SnapshotReadyTimeoutSeconds) * time.Second
}

func (config *Data) SnapshotPollInterval() time.Duration {
	return time.Duration(config.SnapshotPollIntervalSeconds) * time.Second
}

// NamespaceForBranch builds the per-branch namespace name (§3 "Branch"
// lives in a dedicated namespace) as "<prefix>-<branch-id>".
func (config *Data) NamespaceForBranch(branchID string) string {
	return config.NamespacePrefix + "-" + branchID
}

func init() {
	if overlay := os.Getenv("VELA_CONFIG_FILE"); overlay != "" {
		if err := Current.ReadOverlayFile(overlay); err != nil {
			vlog.FromContext(context.Background()).WithName("configuration").
				Error(err, "failed to read configuration overlay", "path", path.Clean(overlay))
		}
	}
}
