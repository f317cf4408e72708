package routingtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

func TestSetGet(t *testing.T) {
	tbl := New()
	name := servicemodel.ServiceName{Name: "a", Namespace: "ns"}

	_, ok := tbl.Get(name)
	require.False(t, ok)

	tbl.Set(name, "pod-1")
	got, ok := tbl.Get(name)
	require.True(t, ok)
	require.Equal(t, "pod-1", got)
}

func TestDeleteByPodOnlyRemovesMatchingPod(t *testing.T) {
	tbl := New()
	name := servicemodel.ServiceName{Name: "a", Namespace: "ns"}
	tbl.Set(name, "pod-1")

	require.False(t, tbl.DeleteByPod(name, "pod-2"))
	_, ok := tbl.Get(name)
	require.True(t, ok)

	require.True(t, tbl.DeleteByPod(name, "pod-1"))
	_, ok = tbl.Get(name)
	require.False(t, ok)
}
