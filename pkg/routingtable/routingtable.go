// Package routingtable holds the service→pod mapping shared between the
// Reconciler and Forwarder goroutines.
package routingtable

import (
	"sync"

	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// Table maps a ServiceName to the name of the pod currently selected to
// back it. It is exclusively mutated by the Reconciler and read under
// mutual exclusion by Forwarders; locks are held only for the map
// operation itself, never across a blocking call.
type Table struct {
	mu   sync.RWMutex
	pods map[servicemodel.ServiceName]string
}

// New creates an empty routing table.
func New() *Table {
	return &Table{pods: make(map[servicemodel.ServiceName]string)}
}

// Set records that name is currently backed by podName.
func (t *Table) Set(name servicemodel.ServiceName, podName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pods[name] = podName
}

// Get returns the pod name backing name, and whether one is mapped.
func (t *Table) Get(name servicemodel.ServiceName) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	podName, ok := t.pods[name]
	return podName, ok
}

// DeleteByPod removes name's mapping if it currently points at podName.
// Used when a pod is deleted, so a stale mapping doesn't keep routing new
// connections to a pod that no longer exists.
func (t *Table) DeleteByPod(name servicemodel.ServiceName, podName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pods[name] != podName {
		return false
	}
	delete(t.pods, name)
	return true
}
