package k8sclient

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"

	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"github.com/lanvstn/kubetransport/pkg/forward"
	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

// Session is a running port-forward to a single pod, relaying every
// configured port pair over one SPDY connection.
type Session struct {
	pf        *portforward.PortForwarder
	stopChan  chan struct{}
	errChan   chan error
	readyChan chan struct{}
}

// Ready is closed once the underlying listeners are bound and accepting.
func (s *Session) Ready() <-chan struct{} { return s.readyChan }

// Err yields ForwardPorts' return value once the session has stopped on
// its own or through ctx. Stop receives that value itself, so after Stop
// nothing is left to read from Err.
func (s *Session) Err() <-chan error { return s.errChan }

// Stop tears down the session and blocks until ForwardPorts has returned.
func (s *Session) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.errChan
}

// StartPortForward opens a SPDY port-forward session to podName, binding
// localAddr locally for every configured ServicePortPair. localAddr is
// typically one of the loopback addresses the hosts file allocator
// assigned to the owning service, letting each service keep its own
// address instead of contending over one shared "localhost".
func (c *Client) StartPortForward(ctx context.Context, namespace, podName string, localAddr netip.Addr, ports []servicemodel.ServicePortPair) (forward.Session, error) {
	req := c.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward")

	transport, upgrader, err := spdy.RoundTripperFor(c.Config)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build spdy roundtripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, req.URL())

	portPairs := make([]string, 0, len(ports))
	for _, p := range ports {
		portPairs = append(portPairs, fmt.Sprintf("%d:%d", p.ServicePort, p.TargetPort))
	}

	s := &Session{
		stopChan:  make(chan struct{}),
		errChan:   make(chan error, 1),
		readyChan: make(chan struct{}),
	}

	pf, err := portforward.NewOnAddresses(dialer, []string{localAddr.String()}, portPairs, s.stopChan, s.readyChan, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build port forwarder: %w", err)
	}
	s.pf = pf

	go func() {
		s.errChan <- pf.ForwardPorts()
	}()

	go func() {
		<-ctx.Done()
		select {
		case <-s.stopChan:
		default:
			close(s.stopChan)
		}
	}()

	return s, nil
}
