package snapshot

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// ParseQuantityBytes parses a Kubernetes quantity string (binary or
// decimal suffixes, e.g. "10Gi" or "10G") into a byte count (§4.1
// "restoreSize parsed from Kubernetes quantity strings").
func ParseQuantityBytes(op, value string) (int64, error) {
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return 0, apierrors.New(apierrors.KindValidation, op, fmt.Sprintf("invalid quantity %q", value), err)
	}
	return q.Value(), nil
}

// FormatBytesQuantity renders bytes as a binary-suffixed Kubernetes
// quantity string suitable for spec.resources.requests.storage.
func FormatBytesQuantity(bytes int64) string {
	return resource.NewQuantity(bytes, resource.BinarySI).String()
}
