package linutil

import (
	lru "github.com/hashicorp/golang-lru"
)

// RegionCache memoizes parsed memory maps keyed by their FNV digest,
// so repeated region lookups between stops avoid re-parsing an
// unchanged maps file.
type RegionCache struct {
	cache *lru.Cache
}

// NewRegionCache builds a cache holding up to size parsed maps.
func NewRegionCache(size int) (*RegionCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &RegionCache{cache: c}, nil
}

// Regions returns the memory map of pid, re-parsing only when the
// maps file changed since the last call.
func (rc *RegionCache) Regions(pid int) ([]Region, error) {
	hash := HashRegions(pid)
	if hash != 0 {
		if v, ok := rc.cache.Get(hash); ok {
			return v.([]Region), nil
		}
	}
	regions, err := Regions(pid)
	if err != nil {
		return nil, err
	}
	if hash != 0 {
		rc.cache.Add(hash, regions)
	}
	return regions, nil
}
