package config

import (
	"fmt"

	"github.com/objectfs/msc/pkg/cache"
)

// CacheSection is the top-level cache configuration. A profile may set
// either the legacy SizeMB integer form or the new Size string-with-units
// form, never both; mixing them in one profile is a validation error.
type CacheSection struct {
	SizeMB                 *int64        `yaml:"size_mb,omitempty" json:"size_mb,omitempty"`
	Size                   string        `yaml:"size,omitempty" json:"size,omitempty"`
	UseEtag                bool          `yaml:"use_etag" json:"use_etag"`
	EvictionPolicy         string        `yaml:"eviction_policy" json:"eviction_policy"`
	RefreshInterval        Duration      `yaml:"refresh_interval" json:"refresh_interval"`
	CachePath              string        `yaml:"cache_path" json:"cache_path"`
	StorageProviderProfile string        `yaml:"storage_provider_profile,omitempty" json:"storage_provider_profile,omitempty"`
}

// Validate rejects a profile that sets both the legacy size_mb and the
// new size form, and checks eviction_policy names a known policy.
func (c CacheSection) Validate() error {
	if c.SizeMB != nil && c.Size != "" {
		return fmt.Errorf("config: cache.size_mb and cache.size are mutually exclusive; set only one")
	}
	if c.EvictionPolicy != "" {
		switch cache.EvictionPolicy(c.EvictionPolicy) {
		case cache.PolicyLRU, cache.PolicyFIFO, cache.PolicyRandom, cache.PolicyNone:
		default:
			return fmt.Errorf("config: unknown cache.eviction_policy %q", c.EvictionPolicy)
		}
	}
	return nil
}

// ToCacheConfig converts the parsed section into cache.Config, resolving
// whichever size form was set into MaxCacheSize bytes.
func (c CacheSection) ToCacheConfig() (cache.Config, error) {
	var maxSize int64
	switch {
	case c.SizeMB != nil:
		maxSize = *c.SizeMB * (1 << 20)
	case c.Size != "":
		var err error
		maxSize, err = cache.ParseSize(c.Size)
		if err != nil {
			return cache.Config{}, err
		}
	}

	policy := cache.EvictionPolicy(c.EvictionPolicy)
	if policy == "" {
		policy = cache.PolicyLRU
	}

	return cache.Config{
		MaxCacheSize:           maxSize,
		UseEtag:                c.UseEtag,
		EvictionPolicy:         policy,
		RefreshInterval:        c.RefreshInterval.Duration(),
		CachePath:              c.CachePath,
		StorageProviderProfile: c.StorageProviderProfile,
	}, nil
}
