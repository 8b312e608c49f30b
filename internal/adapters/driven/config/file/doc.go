// Package file provides the TOML-backed ConfigStore.
//
// The store reads ~/.policyqa/config.toml by default and exposes its
// tables as dotted keys, so [cache] ttl = "5m" is read as "cache.ttl".
package file
