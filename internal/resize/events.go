package resize

import (
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// eventReasonStatus maps a recognized PVC event reason to the resize
// status it drives (§6 "Event stream fields").
var eventReasonStatus = map[string]store.ResizeStatus{
	"Resizing":                   store.ResizeResizing,
	"ExternalExpanding":          store.ResizeResizing,
	"FileSystemResizeRequired":   store.ResizeFilesystemResizePending,
	"FileSystemResizeSuccessful": store.ResizeCompleted,
	"ResizeFinished":             store.ResizeCompleted,
	"VolumeResizeFailed":         store.ResizeFailed,
	"FileSystemResizeFailed":     store.ResizeFailed,
}

// warningFailurePattern additionally maps any Warning-type event whose
// message matches a resize-failure phrase to FAILED (§6).
var warningFailurePattern = regexp.MustCompile(`(?i)\b(resize\w*)\b.*\b(fail|error)\w*\b`)

// serviceSuffixes maps a PVC name suffix to the service it tracks
// (§4.3 "map PVC name suffix").
var serviceSuffixes = []struct {
	suffix  string
	service store.ServiceName
}{
	{"-storage-pvc", store.ServiceStorageAPIDiskResize},
	{"-pvc", store.ServiceDatabaseDiskResize},
}

// ServiceForPVCName maps a PVC object name to the resize service it
// tracks, by suffix. Returns ("", false) for unrecognized names.
func ServiceForPVCName(pvcName string) (store.ServiceName, bool) {
	for _, m := range serviceSuffixes {
		if strings.HasSuffix(pvcName, m.suffix) {
			return m.service, true
		}
	}
	return "", false
}

// StatusForEvent maps a Kubernetes Event on a PVC to the resize status
// it drives, or ("", false) if the event is not resize-relevant.
func StatusForEvent(ev *corev1.Event) (store.ResizeStatus, bool) {
	if status, ok := eventReasonStatus[ev.Reason]; ok {
		return status, true
	}
	if ev.Type == corev1.EventTypeWarning && warningFailurePattern.MatchString(ev.Message) {
		return store.ResizeFailed, true
	}
	return "", false
}
