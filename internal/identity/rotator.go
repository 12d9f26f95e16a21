package identity

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// Pools maps a pool tag ("datacenter", "residential") to a proxy URL with
// embedded credentials.
type Pools map[string]string

// Validate checks every pool entry is an absolute http(s) proxy URL.
func (p Pools) Validate() error {
	for tag, raw := range p {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("proxy pool %q: %w", tag, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("proxy pool %q: expected http(s)://user:pass@host:port", tag)
		}
	}
	return nil
}

// Tags lists the configured pool tags in sorted order.
func (p Pools) Tags() []string {
	tags := make([]string, 0, len(p))
	for tag := range p {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Rotator implements scrape.Rotator for a single pool tag. It carries no
// state between calls.
type Rotator struct {
	table    *Table
	poolTag  string
	endpoint string
	intn     func(n int) int
}

// NewRotator binds a profile table to the proxy endpoint of poolTag.
func NewRotator(table *Table, pools Pools, poolTag string) (*Rotator, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("profile table is empty")
	}
	endpoint, ok := pools[poolTag]
	if !ok || strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("unknown proxy pool %q (configured: %s)", poolTag, strings.Join(pools.Tags(), ", "))
	}
	return &Rotator{
		table:    table,
		poolTag:  poolTag,
		endpoint: strings.TrimSpace(endpoint),
		intn:     rand.IntN,
	}, nil
}

// Next pairs the pool's proxy endpoint with a uniformly drawn profile.
func (r *Rotator) Next() (scrape.Identity, error) {
	return scrape.Identity{
		PoolTag:       r.poolTag,
		ProxyEndpoint: r.endpoint,
		Profile:       r.table.At(r.intn(r.table.Len())),
	}, nil
}

// PoolTag returns the bound pool tag.
func (r *Rotator) PoolTag() string {
	return r.poolTag
}
