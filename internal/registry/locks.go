package registry

import "sync"

// keyedMutexStripes is the number of lock stripes. Must be a power of two.
const keyedMutexStripes = 64

// KeyedMutex serialises work per device ID using a fixed set of lock
// stripes. Two distinct IDs may share a stripe, which only costs
// unnecessary serialisation, never a correctness failure.
//
// The same instance is shared by every component that performs
// read-modify-write sequences on a device (ingestion router, pairing
// coordinator), so a telemetry burst and a pairing confirm for the same
// device cannot interleave.
type KeyedMutex struct {
	stripes [keyedMutexStripes]sync.Mutex
}

// NewKeyedMutex returns a KeyedMutex ready for use.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the stripe for the given key, blocking until available.
func (k *KeyedMutex) Lock(key string) {
	k.stripes[stripeIndex(key)].Lock()
}

// Unlock releases the stripe for the given key.
// Must only be called after a matching Lock with the same key.
func (k *KeyedMutex) Unlock(key string) {
	k.stripes[stripeIndex(key)].Unlock()
}

// stripeIndex maps a key to a stripe using FNV-1a.
func stripeIndex(key string) int {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return int(h & (keyedMutexStripes - 1))
}
