package reconcile

import (
	"context"
	"log/slog"
	"sync"

	corev1 "k8s.io/api/core/v1"

	"github.com/lanvstn/kubetransport/pkg/forward"
	"github.com/lanvstn/kubetransport/pkg/hostsfile"
	"github.com/lanvstn/kubetransport/pkg/routingtable"
	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// Reconciler is the single owner of the hosts file, the known-services
// list, and the routing table. It consumes a merged event stream and, for
// every event, mutates that state and persists the hosts file.
type Reconciler struct {
	hosts   *hostsfile.HostsFile
	routing *routingtable.Table
	opener  forward.Opener
	log     *slog.Logger

	mu            sync.Mutex
	knownServices []servicemodel.KubernetesService

	forwardersMu sync.Mutex
	forwarders   map[servicemodel.ServiceName]context.CancelFunc
}

// New builds a Reconciler over an already-loaded hosts file.
func New(hosts *hostsfile.HostsFile, opener forward.Opener, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		hosts:      hosts,
		routing:    routingtable.New(),
		opener:     opener,
		log:        log,
		forwarders: make(map[servicemodel.ServiceName]context.CancelFunc),
	}
}

// Run consumes events until the channel closes or ctx is done, saving the
// hosts file after every event as the original implementation does.
func (r *Reconciler) Run(ctx context.Context, events <-chan Event) error {
	defer r.stopAllForwarders()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, e); err != nil {
				r.log.Error("failed to handle event", "error", err)
			}
			if err := r.hosts.Save(); err != nil {
				r.log.Error("failed to save hosts file", "error", err)
			}
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, e Event) error {
	switch ev := e.(type) {
	case AppliedService:
		return r.applyService(ctx, ev.Service)

	case DeletedService:
		r.log.Debug("event: delete service", "service", ev.Service.Name.String())
		r.stopForwarder(ev.Service.Name)
		return r.hosts.Delete(ev.Service.Name)

	case ResetServices:
		r.log.Debug("event: reset services", "count", len(ev.Services))
		r.stopAllForwarders()
		r.hosts.Reset()
		r.mu.Lock()
		r.knownServices = nil
		r.mu.Unlock()
		for _, svc := range ev.Services {
			if err := r.applyService(ctx, svc); err != nil {
				return err
			}
		}
		return nil

	case AppliedPod:
		r.syncPodToServices(ev.Pod)
		return nil

	case DeletedPod:
		r.log.Debug("event: delete pod", "pod", ev.Pod.Name)
		podName := ev.Pod.Name
		for _, svc := range r.services() {
			if !r.routing.DeleteByPod(svc.Name, podName) {
				continue
			}
			// Re-run the Forwarder so it waits for the next mapped pod; a
			// service whose hosts entry is gone only has it stopped.
			r.stopForwarder(svc.Name)
			for _, local := range r.hosts.GetKnownServices() {
				if local.Name == svc.Name {
					r.startForwarder(ctx, local, svc)
				}
			}
		}
		return nil

	case ResetPods:
		r.log.Debug("event: reset pods", "count", len(ev.Pods))
		for _, pod := range ev.Pods {
			r.syncPodToServices(pod)
		}
		return nil
	}

	return nil
}

// applyService records svc as known, allocates its loopback address, and
// (re)starts its Forwarder only if there was no previous Forwarder for it
// or its ports changed — a metadata-only update (labels, selector with the
// same matched ports, etc.) must not drop an already-healthy tunnel.
func (r *Reconciler) applyService(ctx context.Context, svc servicemodel.KubernetesService) error {
	r.log.Debug("event: apply service", "service", svc.Name.String())

	prev, hadPrev := r.getKnownService(svc.Name)
	r.setKnownService(svc)

	ip, err := r.hosts.GetOrCreateIP(svc.Name)
	if err != nil {
		return err
	}
	r.log.Info("updated service", "service", svc.Name.String(), "ip", ip)

	r.forwardersMu.Lock()
	_, running := r.forwarders[svc.Name]
	r.forwardersMu.Unlock()

	if running && hadPrev && portsEqual(prev.Ports, svc.Ports) {
		r.log.Debug("ports unchanged, forwarder left running", "service", svc.Name.String())
		return nil
	}

	r.startForwarder(ctx, servicemodel.LocallyMappedService{Name: svc.Name, IP: ip}, svc)
	return nil
}

func portsEqual(a, b []servicemodel.ServicePortPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// syncPodToServices maps pod to every known service whose selector
// matches it, per the original implementation's try_sync_service_port.
func (r *Reconciler) syncPodToServices(pod *corev1.Pod) {
	matched := 0
	for _, svc := range r.services() {
		if !svc.MatchPod(pod) {
			continue
		}
		matched++
		r.routing.Set(svc.Name, pod.Name)
	}

	if matched == 0 {
		r.log.Warn("sync service pod failed: no services matched", "pod", pod.Name, "namespace", pod.Namespace)
	}
}

func (r *Reconciler) services() []servicemodel.KubernetesService {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]servicemodel.KubernetesService, len(r.knownServices))
	copy(out, r.knownServices)
	return out
}

func (r *Reconciler) setKnownService(svc servicemodel.KubernetesService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ks := range r.knownServices {
		if ks.Name == svc.Name {
			r.knownServices[i] = svc
			return
		}
	}
	r.knownServices = append(r.knownServices, svc)
}

func (r *Reconciler) getKnownService(name servicemodel.ServiceName) (servicemodel.KubernetesService, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ks := range r.knownServices {
		if ks.Name == name {
			return ks, true
		}
	}
	return servicemodel.KubernetesService{}, false
}

// startForwarder cancels any previous Forwarder for this service and
// launches a fresh one in its own goroutine, under a context this
// Reconciler owns so it can be torn down on delete or reset.
func (r *Reconciler) startForwarder(ctx context.Context, local servicemodel.LocallyMappedService, svc servicemodel.KubernetesService) {
	r.stopForwarder(svc.Name)

	fctx, cancel := context.WithCancel(ctx)
	r.forwardersMu.Lock()
	r.forwarders[svc.Name] = cancel
	r.forwardersMu.Unlock()

	fwd := &forward.Forwarder{
		Local:   local,
		Service: svc,
		Routing: r.routing,
		Opener:  r.opener,
		Log:     r.log,
	}

	go func() {
		if err := fwd.Run(fctx); err != nil && fctx.Err() == nil {
			r.log.Warn("forwarder exited", "service", svc.Name.String(), "error", err)
		}
	}()
}

func (r *Reconciler) stopForwarder(name servicemodel.ServiceName) {
	r.forwardersMu.Lock()
	cancel, ok := r.forwarders[name]
	if ok {
		delete(r.forwarders, name)
	}
	r.forwardersMu.Unlock()

	if ok {
		cancel()
	}
}

func (r *Reconciler) stopAllForwarders() {
	r.forwardersMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.forwarders))
	for name, cancel := range r.forwarders {
		cancels = append(cancels, cancel)
		delete(r.forwarders, name)
	}
	r.forwardersMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
