// Package quota implements the hierarchical quota engine (C5, §4.5):
// resolving effective per-branch limits across system/org/project tiers
// and admitting or rejecting provisioning requests against them.
package quota

import (
	"context"
	"fmt"
	"math"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// unbounded stands in for the "∞" remaining capacity when a tier has no
// max_total configured (§4.5).
const unbounded = int64(math.MaxInt64)

// defaultPerBranch is the fallback per_branch ceiling when no tier
// configures one (§4.5 "first_non_null(..., 32000)").
const defaultPerBranch = int64(32000)

// SystemDefaults are the seed values for system.max_total per resource
// (§4.5 "System defaults (initial seed)").
var SystemDefaults = map[store.Resource]int64{
	store.ResourceMilliVCPU:    100_000,
	store.ResourceRAM:          1 << 38,
	store.ResourceIOPS:         1_000_000_000,
	store.ResourceDatabaseSize: 100_000_000_000_000,
	store.ResourceStorageSize:  1_000_000_000_000,
}

// Engine resolves effective limits and admits provisioning requests.
type Engine struct {
	repo store.QuotaRepository
}

// NewEngine builds a quota Engine backed by repo.
func NewEngine(repo store.QuotaRepository) *Engine {
	return &Engine{repo: repo}
}

// EffectiveLimit is the §4.5 formula's result for one resource.
type EffectiveLimit struct {
	Resource      store.Resource
	PerBranch     int64
	RemainingOrg  int64 // unbounded if the org has no max_total
	RemainingProj int64 // unbounded if the project has no max_total
	Effective     int64
}

// GetEffectiveBranchLimits computes the effective per-branch limit for
// resource, exactly as in §4.5:
//
//	per_branch  = first_non_null(proj.max_per_branch, org.max_per_branch, sys.max_per_branch, 32000)
//	remaining_org  = org.max_total  − Σ provisioning across org  (∞ if absent)
//	remaining_proj = proj.max_total − Σ provisioning across project (∞ if absent)
//	effective      = max(0, min(per_branch, remaining_org, remaining_proj))
func (e *Engine) GetEffectiveBranchLimits(
	ctx context.Context,
	orgID, projectID entityid.ID,
	envType *store.EnvType,
	resource store.Resource,
) (EffectiveLimit, error) {
	sysLimit, err := e.repo.GetResourceLimit(ctx, store.EntityTypeSystem, nil, nil, nil, resource)
	if err != nil {
		return EffectiveLimit{}, err
	}
	// org_limit is modeled as a "project" tier row scoped to the org
	// with project_id = NULL, matching the §4.5 pseudocode literally.
	orgLimit, err := e.repo.GetResourceLimit(ctx, store.EntityTypeProject, &orgID, nil, nil, resource)
	if err != nil {
		return EffectiveLimit{}, err
	}
	projLimit, err := e.repo.GetResourceLimit(ctx, store.EntityTypeProject, &orgID, &projectID, envType, resource)
	if err != nil {
		return EffectiveLimit{}, err
	}

	perBranch := firstNonNilPerBranch(projLimit, orgLimit, sysLimit)

	remainingOrg := unbounded
	if orgLimit != nil && orgLimit.MaxTotal != nil {
		used, err := e.repo.SumOrgProvisioning(ctx, orgID, resource)
		if err != nil {
			return EffectiveLimit{}, err
		}
		remainingOrg = *orgLimit.MaxTotal - used
	}

	remainingProj := unbounded
	if projLimit != nil && projLimit.MaxTotal != nil {
		used, err := e.repo.SumProjectProvisioning(ctx, projectID, resource)
		if err != nil {
			return EffectiveLimit{}, err
		}
		remainingProj = *projLimit.MaxTotal - used
	}

	effective := min3(perBranch, remainingOrg, remainingProj)
	if effective < 0 {
		effective = 0
	}

	return EffectiveLimit{
		Resource:      resource,
		PerBranch:     perBranch,
		RemainingOrg:  remainingOrg,
		RemainingProj: remainingProj,
		Effective:     effective,
	}, nil
}

func firstNonNilPerBranch(limits ...*store.ResourceLimit) int64 {
	for _, l := range limits {
		if l != nil && l.MaxPerBranch != nil {
			return *l.MaxPerBranch
		}
	}
	return defaultPerBranch
}

func min3(a, b, c int64) int64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Rejection describes one resource that exceeded its effective limit,
// in the deterministic format §4.3 requires admission errors to carry.
type Rejection struct {
	Resource  store.Resource
	Requested int64
	Effective int64
	Residual  int64 // Effective - Requested, always <= 0 for a rejection
}

func (r Rejection) String() string {
	return fmt.Sprintf("resource %s exceeds limit (requested %d, effective %d, residual %d)",
		r.Resource, r.Requested, r.Effective, r.Residual)
}

// Admit checks a hypothetical allocation for branch branchID: for each
// resource in requested, the hypothetical total is
// (current org/project usage − currentAllocation[resource]) + requested[resource].
// Resources whose hypothetical total would exceed the resolved effective
// limit are returned as Rejections; an empty slice means the request is
// admissible.
func (e *Engine) Admit(
	ctx context.Context,
	orgID, projectID entityid.ID,
	envType *store.EnvType,
	currentAllocation map[store.Resource]int64,
	requested map[store.Resource]int64,
) ([]Rejection, error) {
	log := vlog.FromContext(ctx).WithName("quota")
	var rejections []Rejection

	for resource, newAmount := range requested {
		limit, err := e.GetEffectiveBranchLimits(ctx, orgID, projectID, envType, resource)
		if err != nil {
			return nil, err
		}

		current := currentAllocation[resource]
		// The org/project remaining capacities already net out this
		// branch's current allocation (SumOrg/ProjectProvisioning
		// includes it), so it is re-added to those two before comparing
		// against the hypothetical new total. The per-branch ceiling
		// bounds the new amount as is.
		bound := limit.PerBranch
		for _, remaining := range []int64{limit.RemainingOrg, limit.RemainingProj} {
			if remaining < unbounded-current {
				remaining += current
			} else {
				remaining = unbounded
			}
			if remaining < bound {
				bound = remaining
			}
		}
		if bound < 0 {
			bound = 0
		}

		if newAmount > bound {
			log.Info("quota rejection", "resource", resource, "requested", newAmount, "effective", bound)
			metrics.QuotaRejections.WithLabelValues("branch", string(resource)).Inc()
			rejections = append(rejections, Rejection{
				Resource:  resource,
				Requested: newAmount,
				Effective: bound,
				Residual:  bound - newAmount,
			})
		}
	}

	return rejections, nil
}

// CheckResourceLimits is the synchronous admission entry point used by
// branch creation and by C3's resize admission: it wraps Admit into an
// apierrors.KindQuota error when anything is rejected, matching §7's
// error-kind taxonomy.
func (e *Engine) CheckResourceLimits(
	ctx context.Context,
	orgID, projectID entityid.ID,
	envType *store.EnvType,
	currentAllocation map[store.Resource]int64,
	requested map[store.Resource]int64,
) error {
	rejections, err := e.Admit(ctx, orgID, projectID, envType, currentAllocation, requested)
	if err != nil {
		return err
	}
	if len(rejections) == 0 {
		return nil
	}

	msg := rejections[0].String()
	for _, r := range rejections[1:] {
		msg += "; " + r.String()
	}
	return apierrors.Quota("CheckResourceLimits", msg)
}

// CreateOrUpdateBranchProvisioning upserts the branch's allocation for
// resource and logs the mutation (§4.5 "Mutation").
func (e *Engine) CreateOrUpdateBranchProvisioning(ctx context.Context, branchID entityid.ID, resource store.Resource, amount int64, reason string) error {
	return e.repo.UpsertBranchProvisioning(ctx, branchID, resource, amount, reason)
}
