// Package ranges serves the address range page and its text, JSON and
// lookup companions.
package ranges

import (
	"net"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/view"
)

// Source is the read and retry surface of the view the handlers need.
type Source interface {
	Status() view.Status
	Snapshot(criteria domain.Filter) view.Snapshot
	Lookup(ip net.IP) ([]domain.Prefix, error)
	Retry() error
}

// refreshSeconds is how often a pending page reloads itself.
const refreshSeconds = 1
