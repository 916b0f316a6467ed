// Package lookup answers "which published blocks contain this address".
package lookup

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/yl2chen/cidranger"

	"github.com/dukerupert/ipranges/internal/domain"
)

// entry groups every record published for one network. The feed lists the
// same prefix under several services (AMAZON and EC2, for example).
type entry struct {
	network net.IPNet
	records []domain.Prefix
}

func (e *entry) Network() net.IPNet {
	return e.network
}

// Index is an immutable prefix trie over a record list.
type Index struct {
	ranger   cidranger.Ranger
	networks int
}

// Build indexes records by network. Records whose prefix does not parse are
// ignored; the feed client has already validated them.
func Build(records []domain.Prefix) (*Index, error) {
	grouped := make(map[string]*entry)
	order := make([]string, 0)

	for _, r := range records {
		_, network, err := net.ParseCIDR(r.IPPrefix)
		if err != nil {
			continue
		}
		key := network.String()
		e, ok := grouped[key]
		if !ok {
			e = &entry{network: *network}
			grouped[key] = e
			order = append(order, key)
		}
		e.records = append(e.records, r)
	}

	ranger := cidranger.NewPCTrieRanger()
	for _, key := range order {
		if err := ranger.Insert(grouped[key]); err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", key, err)
		}
	}

	return &Index{ranger: ranger, networks: len(order)}, nil
}

// Networks returns the number of distinct networks in the index.
func (ix *Index) Networks() int {
	return ix.networks
}

// Lookup returns the records whose prefix contains ip, most specific
// network first. Records for the same network keep their feed order.
func (ix *Index) Lookup(ip net.IP) ([]domain.Prefix, error) {
	entries, err := ix.ranger.ContainingNetworks(ip)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", ip, err)
	}

	slices.SortStableFunc(entries, func(a, b cidranger.RangerEntry) int {
		na, nb := a.Network(), b.Network()
		la, _ := na.Mask.Size()
		lb, _ := nb.Mask.Size()
		return lb - la
	})

	out := make([]domain.Prefix, 0, len(entries))
	for _, e := range entries {
		if grouped, ok := e.(*entry); ok {
			out = append(out, grouped.records...)
		}
	}
	return out, nil
}

// ParseIP parses a user-supplied address, accepting an optional port.
func ParseIP(raw string) (net.IP, error) {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, domain.Errorf(domain.EINVALID, "lookup.parse", "%q is not an IP address", raw)
	}
	return ip, nil
}
