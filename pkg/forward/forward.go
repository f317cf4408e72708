// Package forward owns the lifetime of a single service's port-forward
// session: waiting for a pod to be mapped, opening the tunnel, and
// tearing it down when its context is cancelled.
package forward

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/lanvstn/kubetransport/pkg/routingtable"
	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// pollInterval mirrors the original implementation's 500ms retry while
// waiting for a service's pod mapping to appear.
const pollInterval = 500 * time.Millisecond

// Session is a running port-forward tunnel to one pod.
type Session interface {
	Ready() <-chan struct{}
	Err() <-chan error
	Stop()
}

// Opener starts a port-forward session to podName in namespace, binding
// localAddr for every entry in ports.
type Opener interface {
	StartPortForward(ctx context.Context, namespace, podName string, localAddr netip.Addr, ports []servicemodel.ServicePortPair) (Session, error)
}

// Forwarder relays a single KubernetesService's ports to whichever pod
// the routing table currently has mapped for it. The mapping is resolved
// once, at startup, matching the original implementation: a pod restart
// is handled by the Reconciler cancelling and re-running the Forwarder,
// not by this type watching the table for changes mid-flight.
type Forwarder struct {
	Local   servicemodel.LocallyMappedService
	Service servicemodel.KubernetesService
	Routing *routingtable.Table
	Opener  Opener
	Log     *slog.Logger
}

// Run blocks until ctx is cancelled or the underlying session fails.
func (f *Forwarder) Run(ctx context.Context) error {
	log := f.logger()

	podName, err := f.awaitPod(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	log = log.With("correlation_id", id, "service", f.Service.Name.String(), "pod", podName)
	log.Info("starting port forward")

	session, err := f.Opener.StartPortForward(ctx, f.Local.Name.Namespace, podName, f.Local.IP, f.Service.Ports)
	if err != nil {
		return fmt.Errorf("forward: start session for %s: %w", f.Service.Name, err)
	}

	select {
	case <-session.Ready():
		log.Info("port forward ready")
	case err := <-session.Err():
		return fmt.Errorf("forward: session for %s failed before ready: %w", f.Service.Name, err)
	case <-ctx.Done():
		session.Stop()
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		session.Stop()
		log.Info("port forward stopped")
		return ctx.Err()
	case err := <-session.Err():
		if err != nil {
			log.Warn("port forward session ended", "error", err)
			return fmt.Errorf("forward: session for %s ended: %w", f.Service.Name, err)
		}
		return nil
	}
}

// awaitPod polls the routing table until a pod is mapped for the
// forwarded service, or ctx is cancelled.
func (f *Forwarder) awaitPod(ctx context.Context) (string, error) {
	name := f.Service.Name

	if podName, ok := f.Routing.Get(name); ok {
		return podName, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if podName, ok := f.Routing.Get(name); ok {
				return podName, nil
			}
			f.logger().Warn("no pod mapped yet", "service", name.String())
		}
	}
}

func (f *Forwarder) logger() *slog.Logger {
	if f.Log == nil {
		return slog.Default()
	}
	return f.Log
}
