// Package hostsfile parses, edits, and serializes the OS static hosts
// file, preserving unmanaged lines verbatim and owning a contiguous
// managed region delimited by sentinel comments.
package hostsfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/spf13/afero"

	"github.com/lanvstn/kubetransport/pkg/servicemodel"
)

const (
	managedStartLine = "# START KUBETRANSPORT MANAGED"
	managedEndLine   = "# END KUBETRANSPORT MANAGED"
)

// MinAddr and MaxAddr bound the loopback range this allocator draws from.
var (
	MinAddr = netip.MustParseAddr("127.8.0.1")
	MaxAddr = netip.MustParseAddr("127.8.255.255")
)

// Sentinel errors surfaced by HostsFile operations.
var (
	ErrNameCollidesWithUnmanaged = errors.New("hostsfile: name collides with an unmanaged entry")
	ErrAmbiguousEntry            = errors.New("hostsfile: multiple managed entries for one name")
	ErrAddressSpaceExhausted     = errors.New("hostsfile: no free address in the managed range")
)

// hostsLine is the tagged-variant line type preserving file order.
type hostsLine interface {
	encode() string
}

type hostsEntry struct {
	ip      netip.Addr
	name    string
	raw     string
	managed bool
}

func (e hostsEntry) encode() string {
	if e.managed {
		return fmt.Sprintf("%s %s", e.ip, e.name)
	}
	return e.raw
}

type rawLine struct{ text string }

func (r rawLine) encode() string { return r.text }

type managedStart struct{}

func (managedStart) encode() string { return managedStartLine }

type managedEnd struct{}

func (managedEnd) encode() string { return managedEndLine }

// HostsFile is an ordered sequence of hosts-file lines plus a snapshot of
// the previous sequence, used to resurrect IPs across a Reset.
type HostsFile struct {
	lines     []hostsLine
	prevLines []hostsLine

	fs   afero.Fs
	path string
	log  *slog.Logger
}

// PathForPlatform returns the on-disk hosts file path. Platform-dependent
// resolution beyond this literal is out of scope for this tool.
func PathForPlatform() string {
	return "/etc/hosts"
}

// Load reads and parses the hosts file at path from fs.
func Load(fs afero.Fs, path string, log *slog.Logger) (*HostsFile, error) {
	if log == nil {
		log = slog.Default()
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hostsfile: open %s: %w", path, err)
	}
	defer f.Close()

	h, err := Parse(f)
	if err != nil {
		return nil, err
	}
	h.fs = fs
	h.path = path
	h.log = log
	return h, nil
}

// Parse reads hosts-file lines from r.
func Parse(r io.Reader) (*HostsFile, error) {
	h := &HostsFile{log: slog.Default()}

	managed := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch parseLine(line).(type) {
		case managedStart:
			managed = true
		case managedEnd:
			managed = false
		}

		parsed := parseLine(line)
		if entry, ok := parsed.(hostsEntry); ok {
			entry.managed = managed
			parsed = entry
		}
		h.lines = append(h.lines, parsed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hostsfile: scan: %w", err)
	}

	return h, nil
}

// ParseString is a convenience wrapper around Parse for tests and
// in-memory use.
func ParseString(s string) *HostsFile {
	h, _ := Parse(strings.NewReader(s))
	return h
}

func parseLine(line string) hostsLine {
	raw := rawLine{text: line}

	if strings.HasPrefix(line, "#") {
		switch line {
		case managedStartLine:
			return managedStart{}
		case managedEndLine:
			return managedEnd{}
		default:
			return raw
		}
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return raw
	}

	ip, err := netip.ParseAddr(fields[0])
	if err != nil {
		return raw
	}
	if len(fields) < 2 {
		return raw
	}

	// The data model permits multiple names per managed entry, but every
	// write this tool performs produces a single name; only the first
	// name is retained for managed-region purposes, and full text is
	// kept verbatim in raw for any entry we end up treating as unmanaged.
	return hostsEntry{ip: ip, name: fields[1], raw: line}
}

// Encode serializes all lines in order, newline-terminated.
func (h *HostsFile) Encode() string {
	var b strings.Builder
	for _, l := range h.lines {
		b.WriteString(l.encode())
		b.WriteByte('\n')
	}
	return b.String()
}

// Save atomically overwrites the hosts file with Encode's output.
func (h *HostsFile) Save() error {
	if h.fs == nil {
		return errors.New("hostsfile: Save called on a HostsFile with no backing filesystem")
	}

	tmp := h.path + ".kubetransport.tmp"
	if err := afero.WriteFile(h.fs, tmp, []byte(h.Encode()), 0o644); err != nil {
		return fmt.Errorf("hostsfile: write temp file: %w", err)
	}
	if err := h.fs.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("hostsfile: rename into place: %w", err)
	}
	return nil
}

// GetKnownServices returns every managed entry whose name parses as a
// valid ServiceName. Invalid names are logged and skipped.
func (h *HostsFile) GetKnownServices() []servicemodel.LocallyMappedService {
	var out []servicemodel.LocallyMappedService
	for _, l := range h.lines {
		entry, ok := l.(hostsEntry)
		if !ok || !entry.managed {
			continue
		}

		name, err := servicemodel.ParseServiceName(entry.name)
		if err != nil {
			h.logger().Warn("managed hosts entry has an invalid service name", "name", entry.name, "error", err)
			continue
		}

		out = append(out, servicemodel.LocallyMappedService{Name: name, IP: entry.ip})
	}
	return out
}

func (h *HostsFile) logger() *slog.Logger {
	if h.log == nil {
		return slog.Default()
	}
	return h.log
}

// GetOrCreateIP returns the loopback IP assigned to name, allocating and
// persisting a new one if none exists yet.
func (h *HostsFile) GetOrCreateIP(name servicemodel.ServiceName) (netip.Addr, error) {
	key := name.String()

	idx, entry, err := h.getByName(h.lines, key)
	if err != nil {
		return netip.Addr{}, err
	}
	if idx >= 0 {
		return entry.ip, nil
	}

	prevIdx, prevEntry, err := h.getByName(h.prevLines, key)
	if err != nil {
		return netip.Addr{}, err
	}

	ip := prevEntry.ip
	if prevIdx < 0 {
		ip, err = h.availableIP()
		if err != nil {
			return netip.Addr{}, err
		}
	}

	if err := h.set(key, ip); err != nil {
		return netip.Addr{}, err
	}
	return ip, nil
}

// getByName finds the single entry named key among lines. It returns
// idx=-1 with no error when absent, and ErrAmbiguousEntry /
// ErrNameCollidesWithUnmanaged on conflicting matches.
func (h *HostsFile) getByName(lines []hostsLine, key string) (int, hostsEntry, error) {
	matchIdx := -1
	var match hostsEntry
	count := 0

	for i, l := range lines {
		entry, ok := l.(hostsEntry)
		if !ok || entry.name != key {
			continue
		}
		count++
		matchIdx, match = i, entry
	}

	switch count {
	case 0:
		return -1, hostsEntry{}, nil
	case 1:
		if !match.managed {
			return -1, hostsEntry{}, fmt.Errorf("%w: %q", ErrNameCollidesWithUnmanaged, key)
		}
		return matchIdx, match, nil
	default:
		return -1, hostsEntry{}, fmt.Errorf("%w: %q", ErrAmbiguousEntry, key)
	}
}

// set performs the single transactional mutation keyed by name: if an
// entry for name already exists it is overwritten in place, otherwise a
// new managed entry is inserted just after the managed-region start.
func (h *HostsFile) set(name string, ip netip.Addr) error {
	for i, l := range h.lines {
		if entry, ok := l.(hostsEntry); ok && entry.name == name {
			h.lines[i] = hostsEntry{ip: ip, name: name, managed: true}
			return nil
		}
	}

	insertAt := h.ensureManagedRegion() + 1
	newEntry := hostsEntry{ip: ip, name: name, managed: true}

	h.lines = append(h.lines, nil)
	copy(h.lines[insertAt+1:], h.lines[insertAt:])
	h.lines[insertAt] = newEntry
	return nil
}

// ensureManagedRegion returns the index of the ManagedStart line,
// creating the sentinel pair at the end of the file if absent.
func (h *HostsFile) ensureManagedRegion() int {
	for i, l := range h.lines {
		if _, ok := l.(managedStart); ok {
			return i
		}
	}

	idx := len(h.lines)
	h.lines = append(h.lines, managedStart{}, managedEnd{})
	return idx
}

// Delete removes the first entry named name, managed or not, if present.
// No-op if absent.
func (h *HostsFile) Delete(name servicemodel.ServiceName) error {
	key := name.String()

	for i, l := range h.lines {
		if entry, ok := l.(hostsEntry); ok && entry.name == key {
			h.lines = append(h.lines[:i], h.lines[i+1:]...)
			return nil
		}
	}
	return nil
}

// Reset snapshots the current lines into prevLines and drops every
// managed entry, preserving sentinels and unmanaged lines in place.
func (h *HostsFile) Reset() {
	h.prevLines = append([]hostsLine(nil), h.lines...)

	kept := h.lines[:0]
	for _, l := range h.lines {
		if entry, ok := l.(hostsEntry); ok && entry.managed {
			continue
		}
		kept = append(kept, l)
	}
	h.lines = kept
}

// availableIP returns the lowest free address in the managed range: the
// first gap between the sorted in-range addresses of every entry (managed
// or not), else the successor of the maximum, else MinAddr if no entry
// falls in the range.
func (h *HostsFile) availableIP() (netip.Addr, error) {
	var ips []netip.Addr
	for _, l := range h.lines {
		entry, ok := l.(hostsEntry)
		if !ok {
			continue
		}
		ip := entry.ip
		if ip.Is4() && inManagedRange(ip) {
			ips = append(ips, ip)
		}
	}

	sortAddrs(ips)

	for i := 1; i < len(ips); i++ {
		prev, cur := ips[i-1], ips[i]
		if addrUint32(cur)-addrUint32(prev) > 1 {
			return nextAddr(prev)
		}
	}

	if len(ips) == 0 {
		return MinAddr, nil
	}
	return nextAddr(ips[len(ips)-1])
}

func inManagedRange(ip netip.Addr) bool {
	return ip.Is4() && !ip.Less(MinAddr) && !MaxAddr.Less(ip)
}

func sortAddrs(ips []netip.Addr) {
	for i := 1; i < len(ips); i++ {
		for j := i; j > 0 && ips[j].Less(ips[j-1]); j-- {
			ips[j], ips[j-1] = ips[j-1], ips[j]
		}
	}
}

func addrUint32(ip netip.Addr) uint32 {
	b := ip.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func nextAddr(ip netip.Addr) (netip.Addr, error) {
	b := ip.As4()
	if b[3] == 255 {
		if b[2] == 255 {
			return netip.Addr{}, ErrAddressSpaceExhausted
		}
		b[2]++
		b[3] = 0
	} else {
		b[3]++
	}
	return netip.AddrFrom4(b), nil
}
