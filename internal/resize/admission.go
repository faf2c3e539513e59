package resize

import (
	"context"
	"fmt"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/quota"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
)

// Admit runs the synchronous admission step of §4.3: for every present,
// changed field it builds the hypothetical allocation
// (branch provisioning - current) + new and asks C5 to verify it fits,
// returning a deterministic error naming every exceeded resource.
func Admit(
	ctx context.Context,
	quotaEngine *quota.Engine,
	branch *store.Branch,
	orgID, projectID entityid.ID,
	req Request,
) (map[store.Resource]int64, error) {
	current := currentAllocation(branch)
	requested, contractions := Changed(current, req.Deltas())

	if len(contractions) > 0 {
		metrics.ResizeAdmissionRejections.WithLabelValues("contraction").Inc()
		return nil, apierrors.Validation("resize.Admit", fmt.Sprintf("storage contraction rejected for %v", contractions))
	}
	if len(requested) == 0 {
		return requested, nil
	}

	if err := quotaEngine.CheckResourceLimits(ctx, orgID, projectID, branch.EnvType, current, requested); err != nil {
		metrics.ResizeAdmissionRejections.WithLabelValues("quota").Inc()
		return nil, err
	}

	return requested, nil
}

func currentAllocation(branch *store.Branch) map[store.Resource]int64 {
	alloc := map[store.Resource]int64{
		store.ResourceDatabaseSize: branch.DatabaseSizeBytes,
		store.ResourceMilliVCPU:    branch.MilliVCPU,
		store.ResourceRAM:          branch.MemoryBytes,
		store.ResourceIOPS:        branch.IOPS,
	}
	if branch.StorageSizeBytes != nil {
		alloc[store.ResourceStorageSize] = *branch.StorageSizeBytes
	}
	return alloc
}
