// Package admission gates new connections on process-wide capacity and
// per-IP-bucket concurrency, using a prefix-length bucket table and
// lowest-limit-wins CIDR overrides.
package admission

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Bucket describes one prefix-length bucket, e.g. IPv4 /24 with a cap of
// 200 concurrent connections.
type Bucket struct {
	PrefixBits int
	Limit      int
}

// Override pins an explicit limit for one CIDR, taking precedence over the
// generic bucket table. A Limit of 0 denies outright.
type Override struct {
	CIDR  string
	Limit int
}

// Config configures the Gate.
type Config struct {
	ConnectionLimit  int
	ConnectionTarget int
	IPv4Buckets      []Bucket
	IPv6Buckets      []Bucket
	Overrides        []Override
}

// DefaultConfig is the standard bucket set: per-host and per-subnet caps
// for both address families.
func DefaultConfig(connectionLimit, connectionTarget int) Config {
	return Config{
		ConnectionLimit:  connectionLimit,
		ConnectionTarget: connectionTarget,
		IPv4Buckets:      []Bucket{{PrefixBits: 32, Limit: 20}, {PrefixBits: 24, Limit: 200}},
		IPv6Buckets:      []Bucket{{PrefixBits: 64, Limit: 20}, {PrefixBits: 48, Limit: 200}},
	}
}

type overrideEntry struct {
	network *net.IPNet
	limit   int
}

// Gate is the process-wide admission controller.
type Gate struct {
	cfg Config

	active int64

	mu        sync.Mutex
	counters  map[string]int
	overrides []overrideEntry
}

// NewGate builds a Gate from cfg.
func NewGate(cfg Config) (*Gate, error) {
	g := &Gate{cfg: cfg, counters: make(map[string]int)}
	for _, o := range cfg.Overrides {
		_, network, err := net.ParseCIDR(o.CIDR)
		if err != nil {
			return nil, fmt.Errorf("admission: invalid override CIDR %q: %w", o.CIDR, err)
		}
		g.overrides = append(g.overrides, overrideEntry{network: network, limit: o.Limit})
	}
	return g, nil
}

// Ticket represents one admitted connection's held capacity slots; Release
// must be called exactly once when the connection ends.
type Ticket struct {
	g    *Gate
	keys []string
}

// Release frees every bucket slot this ticket was holding.
func (t *Ticket) Release() {
	if t == nil || t.g == nil {
		return
	}
	atomic.AddInt64(&t.g.active, -1)
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	for _, k := range t.keys {
		t.g.counters[k]--
		if t.g.counters[k] <= 0 {
			delete(t.g.counters, k)
		}
	}
}

// Admit attempts to admit a connection from remoteAddr, returning a Ticket
// to release on disconnect, or an error naming the rejection reason.
func (g *Gate) Admit(remoteAddr string) (*Ticket, error) {
	if atomic.LoadInt64(&g.active) >= int64(g.cfg.ConnectionLimit) {
		return nil, fmt.Errorf("admission: capacity_exceeded")
	}

	ip := parseHostIP(remoteAddr)
	if ip == nil {
		return nil, fmt.Errorf("admission: unparseable remote address %q", remoteAddr)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	if limit, ok := g.overrideLimit(ip); ok {
		if limit == 0 {
			return nil, fmt.Errorf("admission: denied by override")
		}
		g.mu.Lock()
		key := "override:" + ip.String()
		if g.counters[key] >= limit {
			g.mu.Unlock()
			return nil, fmt.Errorf("admission: override_limit_exceeded")
		}
		g.counters[key]++
		g.mu.Unlock()
		atomic.AddInt64(&g.active, 1)
		return &Ticket{g: g, keys: []string{key}}, nil
	}

	buckets := g.cfg.IPv4Buckets
	if ip.To4() == nil {
		buckets = g.cfg.IPv6Buckets
	}

	var keys []string
	g.mu.Lock()
	for _, b := range buckets {
		key := bucketKey(ip, b.PrefixBits)
		if g.counters[key] >= b.Limit {
			g.mu.Unlock()
			return nil, fmt.Errorf("admission: bucket_limit_exceeded")
		}
		keys = append(keys, key)
	}
	for _, k := range keys {
		g.counters[k]++
	}
	g.mu.Unlock()

	atomic.AddInt64(&g.active, 1)
	return &Ticket{g: g, keys: keys}, nil
}

// ActiveConnections returns the current admitted count.
func (g *Gate) ActiveConnections() int64 { return atomic.LoadInt64(&g.active) }

// AtTarget reports whether the soft connection_target threshold has been
// reached, the signal the health endpoint uses to start draining a node.
func (g *Gate) AtTarget() bool {
	return atomic.LoadInt64(&g.active) >= int64(g.cfg.ConnectionTarget)
}

func (g *Gate) overrideLimit(ip net.IP) (int, bool) {
	best := -1
	found := false
	for _, o := range g.overrides {
		if o.network.Contains(ip) {
			if !found || o.limit < best {
				best = o.limit
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

func bucketKey(ip net.IP, prefixBits int) string {
	mask := net.CIDRMask(prefixBits, len(ip)*8)
	return ip.Mask(mask).String() + fmt.Sprintf("/%d", prefixBits)
}

func parseHostIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
