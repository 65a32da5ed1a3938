package testutil

import "sync"

// HookLocker is a sync.RWMutex that runs hooks around acquisition and
// release, so tests can force a particular interleaving of readers and a
// writer. Nil hooks are skipped.
type HookLocker struct {
	mu sync.RWMutex

	BeforeRLock func()
	AfterRLock  func()
	BeforeLock  func()
	AfterUnlock func()
}

// RLock acquires the shared side.
func (l *HookLocker) RLock() {
	if l.BeforeRLock != nil {
		l.BeforeRLock()
	}
	l.mu.RLock()
	if l.AfterRLock != nil {
		l.AfterRLock()
	}
}

// RUnlock releases the shared side.
func (l *HookLocker) RUnlock() {
	l.mu.RUnlock()
}

// Lock acquires the exclusive side.
func (l *HookLocker) Lock() {
	if l.BeforeLock != nil {
		l.BeforeLock()
	}
	l.mu.Lock()
}

// Unlock releases the exclusive side.
func (l *HookLocker) Unlock() {
	l.mu.Unlock()
	if l.AfterUnlock != nil {
		l.AfterUnlock()
	}
}
