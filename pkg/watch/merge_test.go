package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanvstn/kubetransport/pkg/reconcile"
	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

func TestMergeForwardsBothSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := make(chan reconcile.Event)
	pods := make(chan reconcile.Event)
	merged := Merge(ctx, services, pods)

	name := servicemodel.ServiceName{Name: "a", Namespace: "ns"}
	go func() { services <- reconcile.DeletedService{Service: servicemodel.KubernetesService{Name: name}} }()
	go func() { pods <- reconcile.DeletedPod{} }()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-merged:
			switch e.(type) {
			case reconcile.DeletedService:
				seen["service"] = true
			case reconcile.DeletedPod:
				seen["pod"] = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged event")
		}
	}

	require.True(t, seen["service"])
	require.True(t, seen["pod"])
}

func TestMergeClosesWhenInputsClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := make(chan reconcile.Event)
	pods := make(chan reconcile.Event)
	merged := Merge(ctx, services, pods)

	close(services)
	close(pods)

	select {
	case _, ok := <-merged:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("merged channel never closed")
	}
}
