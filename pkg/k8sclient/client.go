// Package k8sclient wraps the client-go clientset and SPDY port-forward
// machinery used to watch cluster state and relay traffic into pods.
package k8sclient

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client bundles the pieces every other method in this package needs: a
// typed clientset for listing/watching, and the raw rest.Config for
// building SPDY dialers on demand.
type Client struct {
	Clientset kubernetes.Interface
	Config    *rest.Config
}

// New builds a Client from the in-cluster config when running inside a
// pod, falling back to kubeconfigPath (or the default loading rules when
// empty) otherwise.
func New(kubeconfigPath string) (*Client, error) {
	cfg, err := bestConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build clientset: %w", err)
	}

	return &Client{Clientset: cs, Config: cfg}, nil
}

// bestConfig prefers the in-cluster service account config and falls
// back to kubeconfig loading rules, mirroring how most cluster-resident
// tools in this ecosystem bootstrap their client.
func bestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		rules.ExplicitPath = kubeconfigPath
	}

	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}
