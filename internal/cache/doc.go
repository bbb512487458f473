/*
Package cache keeps expensive provider state, such as authenticated clients or region lists,
scoped to the part of a provider context it belongs to.

# Partitioning

Every cache is created with a Level that decides which context components form the partition
key. Keys are hierarchical and compared verbatim:

	LevelCloud          endpoint
	LevelCloudAccount   endpoint → account
	LevelRegion         endpoint → region
	LevelRegionAccount  endpoint → region → account

A client cached at LevelRegionAccount is therefore never returned to another account or region
of the same cloud.

# Expiry

Entries expire individually once they have not been stored for the cache timeout (one hour by
default); expired entries are dropped when read. Independently, a cache that has not been fully
cleared for HardCeiling (24 hours) is emptied on the next read. Storing entries does not
postpone that full clear.

# Registries

Caches are registered under "<owner package path>.<owner type>.<name>" so that two drivers can
use the same short name. DefaultRegistry holds singleton caches and DefaultCollectionRegistry
holds collection caches; tests create their own with NewRegistry:

	clients, err := cache.GetSingleton[*s3.Client](nil, factory, "clients", cache.LevelRegionAccount)
	if err != nil {
		return err
	}
	client, err := clients.GetOrLoad(ctx, pctx, connect)

# Management

Manager exposes every registered cache by name (MBean) for the admin API, and WatchMemory
releases all cached state when the memory monitor reports pressure.
*/
package cache
