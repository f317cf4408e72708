// Package watch fans the independent service and pod event streams into
// the single channel the Reconciler consumes, replacing the tokio::select!
// merge loop of the original implementation with one merge goroutine.
package watch

import (
	"context"
	"sync"

	"github.com/lanvstn/kubetransport/pkg/reconcile"
)

// Merge forwards every event from services and pods onto a single
// returned channel, closing it once both inputs are drained or ctx is
// done. Order between the two sources is not preserved relative to each
// other, only within each source.
func Merge(ctx context.Context, services, pods <-chan reconcile.Event) <-chan reconcile.Event {
	out := make(chan reconcile.Event)

	var wg sync.WaitGroup
	wg.Add(2)

	pump := func(in <-chan reconcile.Event) {
		defer wg.Done()
		for {
			select {
			case e, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}

	go pump(services)
	go pump(pods)

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
