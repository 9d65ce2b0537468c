// Package keylock implements per-content mutual exclusion and the
// compliance blocklist (§4.9): a lazily-created, reference-counted
// keyed semaphore map serializing holders of the same ContentId, and
// an in-memory blocklist with an append-only audit trail. The
// reference-counted lazy-map shape mirrors the teacher's per-key DHT
// record bookkeeping in internal/dht.
package keylock

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// entry is one key's serializing semaphore plus its live-holder count,
// so idle keys can be garbage collected.
type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedMutex serializes holders of the same key across the process.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex builds an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Guard releases the lock held for one key.
type Guard struct {
	km  *KeyedMutex
	key string
}

// Release unlocks the key and garbage collects the entry if idle.
func (g *Guard) Release() {
	g.km.release(g.key)
}

// Acquire blocks until the calling goroutine holds the lock for key,
// or ctx is cancelled.
func (km *KeyedMutex) Acquire(ctx context.Context, key string) (*Guard, error) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		km.mu.Lock()
		e.refs--
		km.gcLocked(key, e)
		km.mu.Unlock()
		return nil, err
	}

	return &Guard{km: km, key: key}, nil
}

func (km *KeyedMutex) release(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	e, ok := km.entries[key]
	if !ok {
		return
	}
	e.sem.Release(1)
	e.refs--
	km.gcLocked(key, e)
}

// gcLocked removes the entry for key once it has no holders and no
// waiters queued behind it. Must be called with km.mu held.
func (km *KeyedMutex) gcLocked(key string, e *entry) {
	if e.refs <= 0 {
		delete(km.entries, key)
	}
}

// Blocklist tracks compliance-blocked content IDs with an append-only
// audit log (§4.9).
type Blocklist struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	logPath string
}

// NewBlocklist builds an empty Blocklist that appends audit entries to
// logPath.
func NewBlocklist(logPath string) *Blocklist {
	return &Blocklist{blocked: make(map[string]struct{}), logPath: logPath}
}

// LoadBlocklist rebuilds a Blocklist's in-memory state by replaying
// logPath's append-only BLOCK/UNBLOCK lines in order, so a fresh process
// picks up prior blocks instead of starting empty. A missing logPath is
// not an error — it just means nothing has ever been blocked.
func LoadBlocklist(logPath string) (*Blocklist, error) {
	b := NewBlocklist(logPath)

	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "|", 4)
		if len(fields) < 3 {
			continue
		}
		action, contentID := fields[1], fields[2]
		switch action {
		case "BLOCK":
			b.blocked[contentID] = struct{}{}
		case "UNBLOCK":
			delete(b.blocked, contentID)
		}
	}
	return b, scanner.Err()
}

// Block adds contentID to the in-memory blocklist and appends an
// ISO8601|BLOCK|content_id|reason line to the audit log.
func (b *Blocklist) Block(contentID, reason string) error {
	b.mu.Lock()
	b.blocked[contentID] = struct{}{}
	b.mu.Unlock()

	return b.appendAudit(contentID, reason)
}

// IsBlocked reports whether contentID is on the blocklist, in O(1).
func (b *Blocklist) IsBlocked(contentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[contentID]
	return ok
}

// Unblock removes contentID from the in-memory blocklist and appends an
// ISO8601|UNBLOCK|content_id| line to the audit log. Prior BLOCK entries
// are never erased — the log is append-only.
func (b *Blocklist) Unblock(contentID string) error {
	b.mu.Lock()
	delete(b.blocked, contentID)
	b.mu.Unlock()

	return b.appendAuditAction("UNBLOCK", contentID, "")
}

func (b *Blocklist) appendAudit(contentID, reason string) error {
	return b.appendAuditAction("BLOCK", contentID, reason)
}

func (b *Blocklist) appendAuditAction(action, contentID, reason string) error {
	if b.logPath == "" {
		return nil
	}

	f, err := os.OpenFile(b.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s|%s|%s|%s\n", time.Now().UTC().Format(time.RFC3339), action, contentID, reason)
	_, err = f.WriteString(line)
	return err
}
