package servicemodel

import "net/netip"

// LocallyMappedService pairs a ServiceName with the loopback address the
// hosts file has assigned to it.
type LocallyMappedService struct {
	Name ServiceName
	IP   netip.Addr
}
