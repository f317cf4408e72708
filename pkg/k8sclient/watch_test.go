package k8sclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/tools/cache"

	"github.com/lanvstn/kubetransport/pkg/reconcile"
)

func TestWatchServicesEmitsResetThenApplied(t *testing.T) {
	existing := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec:       corev1.ServiceSpec{Ports: []corev1.ServicePort{{Port: 80}}},
	}
	cs := fake.NewSimpleClientset(existing)
	c := &Client{Clientset: cs}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, synced := c.WatchServices(ctx, "")
	require.True(t, cache.WaitForCacheSync(ctx.Done(), synced))

	reset := waitForEvent(t, events)
	resetEvt, ok := reset.(reconcile.ResetServices)
	require.True(t, ok, "expected first event to be a reset, got %T", reset)
	require.Len(t, resetEvt.Services, 1)
	require.Equal(t, "web", resetEvt.Services[0].Name.Name)

	created := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "default"},
		Spec:       corev1.ServiceSpec{Ports: []corev1.ServicePort{{Port: 8080}}},
	}
	_, err := cs.CoreV1().Services("default").Create(ctx, created, metav1.CreateOptions{})
	require.NoError(t, err)

	applied := waitForEvent(t, events)
	appliedEvt, ok := applied.(reconcile.AppliedService)
	require.True(t, ok, "expected an applied event, got %T", applied)
	require.Equal(t, "api", appliedEvt.Service.Name.Name)
}

func waitForEvent(t *testing.T, events <-chan reconcile.Event) reconcile.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
