/*
Package types holds the contracts shared by the geomcache tiers and their
collaborators.

The geometry engine hands the cache TypedBuffer values; the parameter system
hands it keys through a KeyDeriver. Everything here is plain data or small
interfaces so that producers and the cache can depend on it without pulling
in the tier implementations.

# Typed buffers

A TypedBuffer is a label plus one of five element slices:

	buf := types.NewFloatBuffer("sphereA", []float32{0, 0.5, 1})
	buf.Type()        // types.Float
	buf.NumElements() // 3
	buf.SizeBytes()   // 12

The Elements interface is sealed; the only implementations are Bytes,
Shorts, Ints, Floats and Doubles. Code that needs the concrete slice uses a
type switch over those five cases.

# Statistics

CacheStats is reported by every tier with the same meaning: hit and miss
counters since start, evictions, bytes currently held and the configured
capacity.
*/
package types
