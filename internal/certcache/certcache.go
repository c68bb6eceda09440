// Package certcache caches leaf certificates minted by internal/leafcert,
// keyed by normalised hostname, bounded by an LRU eviction policy and
// guarded by a singleflight group so concurrent requests for the same
// uncached host mint exactly one certificate.
package certcache

import (
	"container/list"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"

	"mitmproxy/internal/ca"
	"mitmproxy/internal/leafcert"
	"mitmproxy/internal/metrics"
)

const defaultMaxHosts = 1024

// expiryMargin is the minimum remaining validity a cached leaf must have to
// be served; certs closer to expiry than this are treated as a miss and
// re-minted.
const expiryMargin = time.Hour

// Cache maps normalised hostnames to minted leaf certificates, bounded to
// maxHosts entries with least-recently-used eviction.
type Cache struct {
	root     *ca.CA
	maxHosts int
	metrics  *metrics.Metrics

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // front = most recently used

	group singleflight.Group
}

type entry struct {
	host string
	cert *tls.Certificate
}

// New creates a Cache signing leaves with root. maxHosts <= 0 uses the
// default bound of 1024 distinct hosts.
func New(root *ca.CA, maxHosts int, m *metrics.Metrics) *Cache {
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	return &Cache{
		root:     root,
		maxHosts: maxHosts,
		metrics:  m,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a leaf certificate for host, minting and caching one on
// first use (or on expiry). Concurrent callers for the same uncached host
// block on a single in-flight mint rather than each minting their own.
func (c *Cache) Get(host string) (*tls.Certificate, error) {
	normalized := normalizeHost(host)

	if cert, ok := c.lookup(normalized); ok {
		c.metrics.CertCacheHitsTotal.Add(1)
		return cert, nil
	}
	c.metrics.CertCacheMissesTotal.Add(1)

	result, err, _ := c.group.Do(normalized, func() (any, error) {
		if cert, ok := c.lookup(normalized); ok {
			return cert, nil
		}

		start := time.Now()
		leaf, mintErr := leafcert.Mint(c.root, normalized)
		c.metrics.RecordCertMintLatency(time.Since(start))
		if mintErr != nil {
			c.metrics.ErrorsCertMintTotal.Add(1)
			return nil, mintErr
		}
		c.metrics.CertsMintedTotal.Add(1)
		c.store(normalized, leaf)
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*tls.Certificate), nil
}

func (c *Cache) lookup(host string) (*tls.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[host]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Until(e.cert.Leaf.NotAfter) < expiryMargin {
		c.order.Remove(el)
		delete(c.index, host)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.cert, true
}

func (c *Cache) store(host string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[host]; ok {
		el.Value.(*entry).cert = cert
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{host: host, cert: cert})
	c.index[host] = el

	for c.order.Len() > c.maxHosts {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).host)
	}
}

// Len reports the current number of cached hosts, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// normalizeHost lowercases and Punycode-normalises host names so that
// "Example.COM" and "example.com" share a cache entry. IP literals skip
// idna and are returned as-is, as is any name idna rejects.
func normalizeHost(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}
