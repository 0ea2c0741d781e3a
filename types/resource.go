package types

// Cleanable is the cleanup capability exposed by externally-registered
// resources. Cleanup must tolerate being called at any point in the
// resource's lifetime.
type Cleanable interface {
	Cleanup()
}

// CleanupFunc adapts a bare function to Cleanable.
type CleanupFunc func()

func (f CleanupFunc) Cleanup() { f() }

// Handle identifies a registered resource. Zero is never a valid handle.
// Registration is ownership-free: the manager observes the resource but does
// not control its lifetime, and callers that never Unregister leak a registry
// slot until the capacity sweep reclaims nothing for them.
type Handle uint64

type ResourceManager interface {
	LifecycleManager
	RegisterResource(resource Cleanable) (Handle, bool)
	UnregisterResource(handle Handle) bool
	RegisterWorker() (int64, bool)
	UnregisterWorker(id int64)
	IsAtCapacity() bool
	Statistics() MemorySnapshot
	StatisticsJSON() ([]byte, error)
	ForceCleanupNow()
	Cache() CacheEngine
	Scheduler() TaskScheduler
}
