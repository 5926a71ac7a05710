/*
Package config loads the geomcache configuration.

Values are layered with increasing precedence:

 1. compiled-in defaults (NewDefault)
 2. a YAML file (LoadFromFile)
 3. GEOMCACHE_* environment variables (LoadFromEnv)

Example file:

	global:
	  log_level: INFO
	cache:
	  memory:
	    ttl: 24h
	    soft_after: 10m
	    max_memory: 1GB
	  buffer:
	    directory: /var/cache/geomcache/buffer
	    max_size: 4GB
	    compress: false
	    lazy_writes: true
	  files:
	    directory: /var/cache/geomcache/files
	    max_size: 4GB
	monitoring:
	  metrics:
	    enabled: true
	    namespace: geomcache

Sizes are human readable strings. SI suffixes (GB) are powers of 1000 and
IEC suffixes (GiB) are powers of 1024. Empty tier directories are resolved to
the per-user cache directory by ResolveDirectories.

The environment overrides are GEOMCACHE_LOG_LEVEL, GEOMCACHE_LOG_FILE,
GEOMCACHE_BUFFER_DIR, GEOMCACHE_BUFFER_MAX_SIZE, GEOMCACHE_COMPRESS,
GEOMCACHE_LAZY_WRITES, GEOMCACHE_FILES_DIR, GEOMCACHE_FILES_MAX_SIZE,
GEOMCACHE_MEMORY_TTL and GEOMCACHE_MEMORY_MAX.
*/
package config
