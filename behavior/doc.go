// Package behavior tracks per-user rolling interaction profiles used by the
// smart priority classifier: how quickly a user expects responses and how
// engaged they are. Two stores are provided, an in-process MemoryStore and a
// redis-backed RedisStore for deployments where several bot workers share
// one profile set. CachedStore fronts a remote store with a bounded LRU
// whose capacity can follow a live tuning knob.
package behavior
