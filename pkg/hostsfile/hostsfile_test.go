package hostsfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

const baseFile = `127.0.0.1   localhost localhost.localdomain localhost4 localhost4.localdomain4
::1         localhost localhost.localdomain localhost6 localhost6.localdomain6

#
# a comment
192.168.122.250 something.local

# START KUBETRANSPORT MANAGED
127.8.0.1 crab.default.svc.cluster.local
127.8.0.2 gopher.default.svc.cluster.local
127.8.0.3 snake.default.svc.cluster.local
# END KUBETRANSPORT MANAGED

127.8.0.5 somethingelse.local
`

func svcName(t *testing.T, s string) servicemodel.ServiceName {
	t.Helper()
	n, err := servicemodel.ParseServiceName(s)
	require.NoError(t, err)
	return n
}

func TestRoundtrip(t *testing.T) {
	h := ParseString(baseFile)
	require.Equal(t, baseFile, h.Encode())
}

func TestSentinelIdempotence(t *testing.T) {
	h := ParseString("")
	name := svcName(t, "elephant.default.svc.cluster.local")

	_, err := h.GetOrCreateIP(name)
	require.NoError(t, err)

	want := "# START KUBETRANSPORT MANAGED\n127.8.0.1 elephant.default.svc.cluster.local\n# END KUBETRANSPORT MANAGED\n"
	require.Equal(t, want, h.Encode())

	// A second name must not introduce another sentinel pair.
	_, err = h.GetOrCreateIP(svcName(t, "camel.default.svc.cluster.local"))
	require.NoError(t, err)

	starts, ends := 0, 0
	for _, l := range h.lines {
		switch l.(type) {
		case managedStart:
			starts++
		case managedEnd:
			ends++
		}
	}
	require.Equal(t, 1, starts)
	require.Equal(t, 1, ends)
}

func TestIPStability(t *testing.T) {
	h := ParseString(baseFile)
	name := svcName(t, "snake.default.svc.cluster.local")

	ip1, err := h.GetOrCreateIP(name)
	require.NoError(t, err)
	ip2, err := h.GetOrCreateIP(name)
	require.NoError(t, err)
	require.Equal(t, ip1, ip2)
}

func TestGapAllocation(t *testing.T) {
	h := ParseString("# START KUBETRANSPORT MANAGED\n127.8.0.1 a.ns.svc.cluster.local\n127.8.0.3 b.ns.svc.cluster.local\n# END KUBETRANSPORT MANAGED\n")

	ip, err := h.GetOrCreateIP(svcName(t, "c.ns.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, "127.8.0.2", ip.String())
}

func TestMonotoneTailAllocation(t *testing.T) {
	h := ParseString("# START KUBETRANSPORT MANAGED\n127.8.0.1 a.ns.svc.cluster.local\n127.8.0.2 b.ns.svc.cluster.local\n127.8.0.3 c.ns.svc.cluster.local\n# END KUBETRANSPORT MANAGED\n")

	ip, err := h.GetOrCreateIP(svcName(t, "d.ns.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, "127.8.0.4", ip.String())
}

func TestRangeBoundsFirstAllocation(t *testing.T) {
	h := ParseString("")
	ip, err := h.GetOrCreateIP(svcName(t, "a.ns.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, MinAddr, ip)
}

func TestRangeExhausted(t *testing.T) {
	h := &HostsFile{}
	h.lines = []hostsLine{managedStart{}, hostsEntry{ip: MaxAddr, name: "x.ns.svc.cluster.local", managed: true}, managedEnd{}}

	_, err := h.GetOrCreateIP(svcName(t, "new.ns.svc.cluster.local"))
	require.ErrorIs(t, err, ErrAddressSpaceExhausted)
}

func TestNameUniqueness(t *testing.T) {
	h := ParseString(baseFile)
	before := len(h.lines)

	name := svcName(t, "crab.default.svc.cluster.local")
	_, err := h.GetOrCreateIP(name)
	require.NoError(t, err)
	_, err = h.GetOrCreateIP(name)
	require.NoError(t, err)

	require.Equal(t, before, len(h.lines))
}

func TestDeleteSymmetry(t *testing.T) {
	h := ParseString(baseFile)
	before := len(h.lines)

	require.NoError(t, h.Delete(svcName(t, "crab.default.svc.cluster.local")))
	require.Equal(t, before-1, len(h.lines))

	// Deleting an absent name is a no-op.
	require.NoError(t, h.Delete(svcName(t, "crab.default.svc.cluster.local")))
	require.Equal(t, before-1, len(h.lines))
}

func TestResetPreservesUnmanaged(t *testing.T) {
	h := ParseString(baseFile)
	h.Reset()

	for _, l := range h.lines {
		if entry, ok := l.(hostsEntry); ok {
			require.False(t, entry.managed, "no managed entries should remain after reset")
		}
	}

	encoded := h.Encode()
	require.Contains(t, encoded, "192.168.122.250 something.local")
	require.Contains(t, encoded, "127.8.0.5 somethingelse.local")
	require.NotContains(t, encoded, "crab.default.svc.cluster.local")
}

func TestGetOrCreateIPReusesExisting(t *testing.T) {
	h := ParseString(baseFile)
	ip, err := h.GetOrCreateIP(svcName(t, "snake.default.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, "127.8.0.3", ip.String())
}

func TestGetOrCreateIPTailGrowthSkipsUnmanagedIP(t *testing.T) {
	h := ParseString(baseFile)

	ip, err := h.GetOrCreateIP(svcName(t, "elephant.default.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, "127.8.0.4", ip.String())

	// The unmanaged 127.8.0.5 entry occupies that address even though it
	// isn't part of the managed region, so the next allocation must skip
	// past it rather than collide with it.
	ip, err = h.GetOrCreateIP(svcName(t, "camel.default.svc.cluster.local"))
	require.NoError(t, err)
	require.Equal(t, "127.8.0.6", ip.String())
}

func TestNameCollidesWithUnmanaged(t *testing.T) {
	h := ParseString("192.168.1.1 taken.ns.svc.cluster.local\n")
	_, err := h.GetOrCreateIP(svcName(t, "taken.ns.svc.cluster.local"))
	require.ErrorIs(t, err, ErrNameCollidesWithUnmanaged)
}

func TestGetKnownServices(t *testing.T) {
	h := ParseString(baseFile)
	known := h.GetKnownServices()
	require.Len(t, known, 3)

	names := map[string]string{}
	for _, k := range known {
		names[k.Name.String()] = k.IP.String()
	}
	require.Equal(t, "127.8.0.1", names["crab.default.svc.cluster.local"])
	require.Equal(t, "127.8.0.2", names["gopher.default.svc.cluster.local"])
	require.Equal(t, "127.8.0.3", names["snake.default.svc.cluster.local"])
}
