package engine

import "sync"

// keyMutex serializes access per key (trip id) while leaving different keys
// fully parallel. Mutexes are created lazily and kept for the process
// lifetime; the key space is bounded by the number of trips in flight.
type keyMutex struct {
	locks sync.Map // string -> *sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyMutex) Lock(key string) func() {
	raw, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := raw.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
