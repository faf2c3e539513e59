package resize

import (
	"context"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// queueCapacity and workerCount implement §4.3/§5 "bounded queue (max
// 2048) served by a worker pool (4 workers)".
const (
	queueCapacity = 2048
	workerCount   = 4
)

// minBackoff and maxBackoff bound the delay before Run rebuilds the
// informer when informer.Run returns while ctx is still live.
const (
	minBackoff = 5 * time.Second
	maxBackoff = 60 * time.Second
)

// Watcher consumes PersistentVolumeClaim Events across all namespaces
// and advances each branch's resize_statuses through the monotonic
// lattice as events arrive (§4.3 "Event-driven progress").
type Watcher struct {
	Core     kubernetes.Interface
	Branches store.BranchRepository

	mu       sync.Mutex
	queue    workqueue.RateLimitingInterface
	dropped  bool
}

// NewWatcher builds a Watcher.
func NewWatcher(core kubernetes.Interface, branches store.BranchRepository) *Watcher {
	return &Watcher{
		Core:     core,
		Branches: branches,
		queue:    workqueue.NewRateLimitingQueue(workqueue.DefaultControllerRateLimiter()),
	}
}

// Run runs the list-watch informer that feeds the queue (RunWorkers
// drains it), blocking until ctx is cancelled. Every list uses
// resourceVersion=0, including the relist the informer's reflector
// performs after HTTP 410 Gone. Dropped watches are re-established
// inside the reflector with client-go's own backoff, not minBackoff and
// maxBackoff: informer.Run returns only once ctx is cancelled, so the
// backoff branch below is not reached while ctx is live.
func (w *Watcher) Run(ctx context.Context) {
	log := vlog.FromContext(ctx).WithName("resize-watcher")
	defer w.queue.ShutDown()

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		informer := w.buildInformer()
		stopCh := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stopCh)
		}()

		informer.Run(stopCh)

		if ctx.Err() != nil {
			return
		}

		log.Info("resize event watch disconnected, backing off", "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (w *Watcher) buildInformer() cache.Controller {
	listWatch := &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			options.ResourceVersion = "0"
			options.FieldSelector = fields.OneTermEqualSelector("involvedObject.kind", "PersistentVolumeClaim").String()
			return w.Core.CoreV1().Events(metav1.NamespaceAll).List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.FieldSelector = fields.OneTermEqualSelector("involvedObject.kind", "PersistentVolumeClaim").String()
			return w.Core.CoreV1().Events(metav1.NamespaceAll).Watch(context.Background(), options)
		},
	}

	_, informer := cache.NewInformer(listWatch, &corev1.Event{}, 0, cache.ResourceEventHandlerFuncs{
		AddFunc:    w.enqueue,
		UpdateFunc: func(_, newObj any) { w.enqueue(newObj) },
	})
	return informer
}

func (w *Watcher) enqueue(obj any) {
	ev, ok := obj.(*corev1.Event)
	if !ok {
		return
	}

	w.mu.Lock()
	saturated := w.queue.Len() >= queueCapacity
	justSaturated := saturated && !w.dropped
	w.dropped = saturated
	w.mu.Unlock()

	if saturated {
		if justSaturated {
			vlog.FromContext(context.Background()).WithName("resize-watcher").
				Info("event queue saturated, pausing enqueue", "capacity", queueCapacity)
		}
		return
	}

	w.queue.Add(ev)
}

// RunWorkers starts workerCount goroutines draining the queue, applying
// resize status transitions via apply, until ctx is cancelled. On
// cancellation it drains with a bounded final wait before returning
// (§5 "Cancellation").
func (w *Watcher) RunWorkers(ctx context.Context, apply func(ctx context.Context, ev *corev1.Event) error) {
	var wgroup sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wgroup.Add(1)
		go func() {
			defer wgroup.Done()
			wait.Until(func() { w.processNext(ctx, apply) }, time.Millisecond, ctx.Done())
		}()
	}

	<-ctx.Done()
	drained := make(chan struct{})
	go func() { wgroup.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		vlog.FromContext(ctx).WithName("resize-watcher").Info("worker drain timed out during shutdown")
	}
}

func (w *Watcher) processNext(ctx context.Context, apply func(ctx context.Context, ev *corev1.Event) error) {
	item, quit := w.queue.Get()
	if quit {
		return
	}
	defer w.queue.Done(item)

	ev := item.(*corev1.Event)
	if err := apply(ctx, ev); err != nil {
		w.queue.AddRateLimited(item)
		return
	}
	w.queue.Forget(item)
}

// ApplyEvent is the default apply function: it maps ev to a
// (branch, service, status) transition and persists it through
// branches, honoring the monotonic priority lattice. When a disk
// resize's PVC reports completion, it also commits the completion
// effect: the branch's allocated storage field and its
// BranchProvisioning row, using the target value BuildServiceUpdates
// carried into the PENDING row at admission time (§4.3 "Completion
// effects").
func ApplyEvent(ctx context.Context, branches store.BranchRepository, provisioning store.QuotaRepository, branchIDFromNamespace func(namespace string) (entityid.ID, bool), ev *corev1.Event) error {
	if ev.InvolvedObject.Kind != "PersistentVolumeClaim" {
		return nil
	}
	service, ok := ServiceForPVCName(ev.InvolvedObject.Name)
	if !ok {
		return nil
	}
	status, ok := StatusForEvent(ev)
	if !ok {
		return nil
	}
	branchID, ok := branchIDFromNamespace(ev.InvolvedObject.Namespace)
	if !ok {
		return nil
	}

	branch, err := branches.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}

	current := branch.ResizeStatuses[string(service)]
	if !current.Status.Advances(status) {
		return nil
	}

	now := time.Now().UTC()
	next := map[string]store.ServiceResizeState{}
	for k, v := range branch.ResizeStatuses {
		next[k] = v
	}
	next[string(service)] = store.ServiceResizeState{
		Status:      status,
		Timestamp:   now,
		RequestedAt: current.RequestedAt,
		TargetValue: current.TargetValue,
	}
	metrics.ResizeTransitions.WithLabelValues(string(service), string(status)).Inc()

	aggregate := store.Aggregate(next)
	if err := branches.UpdateBranchResizeStatuses(ctx, branchID, next, aggregate); err != nil {
		return err
	}

	if status != store.ResizeCompleted {
		return nil
	}
	return commitDiskCompletion(ctx, branches, provisioning, branchID, service, current.TargetValue)
}

// commitDiskCompletion persists the allocation-completion effect for a
// disk resize once its PVC event reports COMPLETED (§4.3 "Completion
// effects", §8 "ResizeDatabaseDisk" seed scenario). CPU/memory/IOPS
// commit synchronously in Coordinator.Submit instead, since the
// watcher only observes PersistentVolumeClaim events.
func commitDiskCompletion(ctx context.Context, branches store.BranchRepository, provisioning store.QuotaRepository, branchID entityid.ID, service store.ServiceName, target int64) error {
	switch service {
	case store.ServiceDatabaseDiskResize:
		if err := branches.UpdateBranchAllocatedStorage(ctx, branchID, &target, nil); err != nil {
			return err
		}
		if provisioning == nil {
			return nil
		}
		return provisioning.UpsertBranchProvisioning(ctx, branchID, store.ResourceDatabaseSize, target, "resize_completed")
	case store.ServiceStorageAPIDiskResize:
		if err := branches.UpdateBranchAllocatedStorage(ctx, branchID, nil, &target); err != nil {
			return err
		}
		if provisioning == nil {
			return nil
		}
		return provisioning.UpsertBranchProvisioning(ctx, branchID, store.ResourceStorageSize, target, "resize_completed")
	default:
		return nil
	}
}
