// Package redis implements storage.Store with one Redis string per key,
// namespaced by a configurable prefix.
package redis
