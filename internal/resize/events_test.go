package resize

import (
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

func TestServiceForPVCNameBySuffix(t *testing.T) {
	cases := map[string]store.ServiceName{
		"branch-storage-pvc": store.ServiceStorageAPIDiskResize,
		"branch-pvc":         store.ServiceDatabaseDiskResize,
	}
	for name, want := range cases {
		got, ok := ServiceForPVCName(name)
		if !ok || got != want {
			t.Errorf("ServiceForPVCName(%q) = %v,%v want %v", name, got, ok, want)
		}
	}
}

func TestServiceForPVCNameUnrecognized(t *testing.T) {
	if _, ok := ServiceForPVCName("unrelated-object"); ok {
		t.Errorf("expected unrecognized name to return ok=false")
	}
}

func TestStatusForEventKnownReasons(t *testing.T) {
	ev := &corev1.Event{Reason: "FileSystemResizeSuccessful"}
	status, ok := StatusForEvent(ev)
	if !ok || status != store.ResizeCompleted {
		t.Errorf("expected COMPLETED, got %v,%v", status, ok)
	}
}

func TestStatusForEventWarningMessageMatchesFailure(t *testing.T) {
	ev := &corev1.Event{
		Type:    corev1.EventTypeWarning,
		Reason:  "SomethingElse",
		Message: "volume resize operation failed permanently",
	}
	status, ok := StatusForEvent(ev)
	if !ok || status != store.ResizeFailed {
		t.Errorf("expected FAILED from warning message match, got %v,%v", status, ok)
	}
}

func TestStatusForEventIgnoresUnrelated(t *testing.T) {
	ev := &corev1.Event{Type: corev1.EventTypeNormal, Reason: "Scheduled"}
	if _, ok := StatusForEvent(ev); ok {
		t.Errorf("expected unrelated event to be ignored")
	}
}
