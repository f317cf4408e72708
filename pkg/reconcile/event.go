// Package reconcile implements the single-owner state machine that
// consumes service and pod events, mutates the hosts file, maintains the
// service→pod routing table, and spawns/retires Forwarders.
package reconcile

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// Event is one item from the merged service/pod event stream.
type Event interface {
	isEvent()
}

// AppliedService is emitted when a service is created or updated.
type AppliedService struct{ Service servicemodel.KubernetesService }

// DeletedService is emitted when a service is removed.
type DeletedService struct{ Service servicemodel.KubernetesService }

// ResetServices is emitted once, on initial list sync, with the full set
// of services currently known to the cluster.
type ResetServices struct{ Services []servicemodel.KubernetesService }

// AppliedPod is emitted when a pod is created or updated.
type AppliedPod struct{ Pod *corev1.Pod }

// DeletedPod is emitted when a pod is removed.
type DeletedPod struct{ Pod *corev1.Pod }

// ResetPods is emitted once, on initial list sync, with the full set of
// pods currently known to the cluster.
type ResetPods struct{ Pods []*corev1.Pod }

func (AppliedService) isEvent() {}
func (DeletedService) isEvent() {}
func (ResetServices) isEvent()  {}
func (AppliedPod) isEvent()     {}
func (DeletedPod) isEvent()     {}
func (ResetPods) isEvent()      {}
