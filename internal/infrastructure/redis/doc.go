// Package redis provides the connection to the external durable key-value
// store used by Nimbus Core.
//
// The store holds all state this service must not lose across restarts:
//
//   - device records and pairing state (internal/registry)
//   - active pairing requests with TTL (internal/pairing)
//   - alert cooldown markers (internal/notify)
//   - the undelivered-alert operator queue, a Redis Stream (internal/notify)
//
// The wrapper is intentionally thin: it owns connection lifecycle, health
// checks, and the per-operation timeout policy. Key layout and data shapes
// belong to the packages that own the data.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
