package servicemodel

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// ServicePortPair is a TCP (service_port, target_port) pair. Both are
// 16-bit unsigned values encoded as signed 32-bit on the wire, matching
// corev1.ServicePort's own int32 fields.
type ServicePortPair struct {
	ServicePort int32
	TargetPort  int32
}

// NewServicePortPair projects a corev1.ServicePort, returning ok=false for
// non-TCP ports. Protocol defaults to TCP when absent. A symbolic or
// missing TargetPort falls back to ServicePort.
func NewServicePortPair(p corev1.ServicePort) (ServicePortPair, bool) {
	protocol := p.Protocol
	if protocol == "" {
		protocol = corev1.ProtocolTCP
	}
	if protocol != corev1.ProtocolTCP {
		return ServicePortPair{}, false
	}

	targetPort := p.Port
	if p.TargetPort.Type == intstr.Int && p.TargetPort.IntVal != 0 {
		targetPort = p.TargetPort.IntVal
	}

	return ServicePortPair{ServicePort: p.Port, TargetPort: targetPort}, true
}

// KubernetesService is the projection of a corev1.Service this tool cares
// about: its identity, TCP ports, and label selector.
type KubernetesService struct {
	Name     ServiceName
	Ports    []ServicePortPair
	Selector map[string]string
}

// FromService projects a corev1.Service, filtering to TCP ports and
// applying the target-port fallback rule.
func FromService(svc *corev1.Service) KubernetesService {
	ports := make([]ServicePortPair, 0, len(svc.Spec.Ports))
	for _, p := range svc.Spec.Ports {
		if pair, ok := NewServicePortPair(p); ok {
			ports = append(ports, pair)
		}
	}

	return KubernetesService{
		Name: ServiceName{
			Name:      svc.Name,
			Namespace: svc.Namespace,
		},
		Ports:    ports,
		Selector: svc.Spec.Selector,
	}
}

// MatchPod reports whether every selector entry is present in the pod's
// labels with an equal value. An empty selector matches no pod, to avoid
// accidental wildcard capture.
func (s KubernetesService) MatchPod(pod *corev1.Pod) bool {
	if len(s.Selector) == 0 {
		return false
	}

	labels := pod.Labels
	for k, v := range s.Selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
