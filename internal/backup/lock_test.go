package backup

import (
	"testing"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

func TestKeyedLockTryLockContention(t *testing.T) {
	l := NewKeyedLock()
	branch := entityid.New()

	unlock, ok := l.TryLock(branch)
	if !ok {
		t.Fatalf("expected first TryLock to succeed")
	}
	if _, ok := l.TryLock(branch); ok {
		t.Fatalf("expected second TryLock on the same key to fail while held")
	}

	unlock()
	if _, ok := l.TryLock(branch); !ok {
		t.Fatalf("expected TryLock to succeed again after unlock")
	}
}

func TestKeyedLockEvictsAfterUnlock(t *testing.T) {
	l := NewKeyedLock()
	branch := entityid.New()

	unlock, _ := l.TryLock(branch)
	unlock()

	l.mu.Lock()
	_, exists := l.locks[branch]
	l.mu.Unlock()
	if exists {
		t.Fatalf("expected map entry to be evicted once uncontended")
	}
}
