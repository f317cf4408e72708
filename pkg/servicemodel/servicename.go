// Package servicemodel holds the value types for service identity, service
// port pairs, and label-selector matching against pods.
package servicemodel

import (
	"fmt"
	"strings"
)

const clusterDomainSuffix = ".svc.cluster.local"

// ServiceName identifies a Kubernetes Service by name and namespace. Its
// canonical textual form is "name.namespace.svc.cluster.local".
type ServiceName struct {
	Name      string
	Namespace string
}

// String renders the canonical DNS form of the service name.
func (s ServiceName) String() string {
	return fmt.Sprintf("%s.%s%s", s.Name, s.Namespace, clusterDomainSuffix)
}

// ParseServiceName parses the canonical "name.namespace.svc.cluster.local"
// form. Anything whose suffix after the first two dot-segments isn't
// literally ".svc.cluster.local" is rejected.
func ParseServiceName(s string) (ServiceName, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return ServiceName{}, fmt.Errorf("servicemodel: %q has no namespace segment", s)
	}

	name, namespace := parts[0], parts[1]
	if name == "" || namespace == "" {
		return ServiceName{}, fmt.Errorf("servicemodel: %q has an empty name or namespace", s)
	}

	suffix := "." + strings.Join(parts[2:], ".")
	if suffix != clusterDomainSuffix {
		return ServiceName{}, fmt.Errorf("servicemodel: %q: suffix %q is not %q", s, suffix, clusterDomainSuffix)
	}

	return ServiceName{Name: name, Namespace: namespace}, nil
}
