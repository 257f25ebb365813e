package client

import (
	"context"

	"github.com/objectfs/msc/pkg/cache"
	fscache "github.com/objectfs/msc/pkg/cache/filesystem"
	"github.com/objectfs/msc/pkg/cache/providercache"
	"github.com/objectfs/msc/pkg/circuit"
	"github.com/objectfs/msc/pkg/config"
	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/manifest"
	"github.com/objectfs/msc/pkg/msurl"
	"github.com/objectfs/msc/pkg/retry"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/telemetry"
)

// FromConfig builds a Client for the named profile: the storage
// provider through the registry, the manifest metadata provider when
// the profile configures one, the cache backend when the top-level
// cache section is present, and the profile's retry settings.
//
// Concrete backends register themselves at init time, so callers must
// blank-import the backend packages they want available (cmd/msc
// imports all of them).
func FromConfig(ctx context.Context, cfg *config.Config, profileName string) (*Client, error) {
	profile, ok := cfg.Profiles[profileName]
	if !ok {
		if profileName != msurl.DefaultProfile {
			return nil, errors.InvalidArgument("unknown profile %q", profileName)
		}
		// file:// URLs and bare absolute paths resolve here even with no
		// configured "default" profile: the whole local filesystem.
		profile = config.Profile{
			StorageProvider: &config.NamedConfig{
				Type:    "file",
				Options: map[string]interface{}{"base_path": "/"},
			},
		}
	}
	if profile.StorageProvider == nil {
		return nil, errors.InvalidArgument("profile %q: provider_bundle profiles must be constructed programmatically", profileName)
	}

	provider, err := storage.New(profile.StorageProvider.Type, profile.StorageProvider.Options)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.New(telemetry.Config{
		Namespace: "msc",
		Subsystem: "client",
		Attributes: telemetry.Merge(
			telemetry.HostAttributesProvider{},
			telemetry.ProcessAttributesProvider{},
			telemetry.CurrentUserAttributesProvider{},
			telemetry.RuntimeAttributesProvider{Runtime: cfg.Runtime},
		),
	})
	if err != nil {
		return nil, err
	}

	clientCfg := Config{
		Provider: provider,
		Breaker:  circuit.New(profile.StorageProvider.Type, circuit.Config{}),
		Metrics:  metrics,
		Health:   telemetry.NewHealthTracker(3, 10),
		Retry:    retry.DefaultConfig(),
	}
	if profile.Retry != nil {
		clientCfg.Retry = retry.Config{
			MaxAttempts: profile.Retry.MaxAttempts,
			Delay:       profile.Retry.Delay.Duration(),
		}
	}

	if mp := profile.MetadataProvider; mp != nil {
		if mp.Type != "manifest" {
			return nil, errors.InvalidArgument("profile %q: unknown metadata_provider type %q", profileName, mp.Type)
		}
		manifestPath, _ := mp.Options["manifest_path"].(string)
		writable, _ := mp.Options["writable"].(bool)
		m, err := manifest.New(ctx, provider, manifestPath, writable)
		if err != nil {
			return nil, err
		}
		clientCfg.MetadataProvider = m
	}

	if cfg.Cache.CachePath != "" {
		cacheCfg, err := cfg.Cache.ToCacheConfig()
		if err != nil {
			return nil, err
		}
		backend, err := buildCacheBackend(cfg, profileName, cacheCfg)
		if err != nil {
			return nil, err
		}
		clientCfg.Cache = backend
		clientCfg.UseEtag = cacheCfg.UseEtag
	}

	c := New(clientCfg)
	c.ref = &Ref{Profile: profileName, Config: cfg}
	return c, nil
}

// Ref identifies a configuration-built client. It is JSON-serializable,
// so a worker process can rebuild an equivalent client from it.
type Ref struct {
	Profile string         `json:"profile"`
	Config  *config.Config `json:"config"`
}

// Build reconstructs the client Ref describes.
func (r Ref) Build(ctx context.Context) (*Client, error) {
	return FromConfig(ctx, r.Config, r.Profile)
}

// Ref reports how to rebuild this client. Clients assembled directly
// from a provider bundle via New carry no configuration and return
// ok=false: they are not serializable.
func (c *Client) Ref() (ref Ref, ok bool) {
	if c.ref == nil {
		return Ref{}, false
	}
	return *c.ref, true
}

// buildCacheBackend picks the cache variant: provider-backed when the
// config names a substrate profile, local filesystem otherwise.
func buildCacheBackend(cfg *config.Config, profileName string, cacheCfg cache.Config) (cache.Backend, error) {
	if cacheCfg.StorageProviderProfile == "" {
		return fscache.New(cacheCfg.CachePath, profileName, cacheCfg)
	}

	substrate, ok := cfg.Profiles[cacheCfg.StorageProviderProfile]
	if !ok {
		return nil, errors.InvalidArgument("cache: unknown storage_provider_profile %q", cacheCfg.StorageProviderProfile)
	}
	if substrate.StorageProvider == nil {
		return nil, errors.InvalidArgument("cache: storage_provider_profile %q has no storage_provider", cacheCfg.StorageProviderProfile)
	}
	switch substrate.StorageProvider.Type {
	case "s3", "s8k":
	default:
		return nil, errors.InvalidArgument("cache: storage_provider_profile %q must be an s3/s8k profile, got %q",
			cacheCfg.StorageProviderProfile, substrate.StorageProvider.Type)
	}
	substrateProvider, err := storage.New(substrate.StorageProvider.Type, substrate.StorageProvider.Options)
	if err != nil {
		return nil, err
	}
	return providercache.New(substrateProvider, cacheCfg.CachePath, profileName, cacheCfg.UseEtag), nil
}
