// Package ports implements the Port Pool: reservation of unique
// (backend, frontend) port pairs from a bounded range, persisted to a JSON
// file and guarded by both an in-process mutex and a cross-process file
// lock, since one OS process runs per workflow (see the concurrency model).
package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/forgeflow/forge/internal/forgeerr"
)

// Allocation records one workflow's reserved port pair.
type Allocation struct {
	WorkflowID  string    `json:"workflow_id"`
	Backend     int       `json:"backend"`
	Frontend    int       `json:"frontend"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// Pool reserves (backend, frontend) pairs from [Start, Start+Size). Slot k
// maps to backend=Start+k, frontend=Start+100+k; frontend is always
// backend+100 by construction.
type Pool struct {
	Start int
	Size  int

	path string
	mu   sync.Mutex
	file *flock.Flock
}

// NewPool creates a Pool persisting its allocation table at path (typically
// agents/port_pool.json), reserving slots in [start, start+size).
func NewPool(path string, start, size int) *Pool {
	return &Pool{
		Start: start,
		Size:  size,
		path:  path,
		file:  flock.New(path + ".lock"),
	}
}

func (p *Pool) withLock(fn func(map[string]Allocation) (map[string]Allocation, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("ports: creating dir: %w", err)
	}
	locked, err := p.file.TryLockContext(context.Background(), 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("ports: acquiring file lock: %w", err)
	}
	defer p.file.Unlock() //nolint:errcheck

	allocs, err := p.load()
	if err != nil {
		return err
	}
	next, err := fn(allocs)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return p.writeAtomic(next)
}

func (p *Pool) load() (map[string]Allocation, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Allocation{}, nil
		}
		return nil, fmt.Errorf("ports: reading %q: %w", p.path, err)
	}
	var m map[string]Allocation
	if len(data) == 0 {
		return map[string]Allocation{}, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ports: parsing %q: %w", p.path, err)
	}
	return m, nil
}

func (p *Pool) writeAtomic(allocs map[string]Allocation) error {
	data, err := json.MarshalIndent(allocs, "", "  ")
	if err != nil {
		return fmt.Errorf("ports: marshal: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ports: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("ports: renaming temp file: %w", err)
	}
	return nil
}

// Reserve returns the workflow's existing allocation if one already exists
// (idempotent), otherwise reserves the lowest unused slot. Returns
// forgeerr.ErrPortPoolExhausted when no slot is free.
func (p *Pool) Reserve(workflowID string) (backend, frontend int, err error) {
	err = p.withLock(func(allocs map[string]Allocation) (map[string]Allocation, error) {
		if a, ok := allocs[workflowID]; ok {
			backend, frontend = a.Backend, a.Frontend
			return nil, nil
		}

		used := make(map[int]bool, len(allocs))
		for _, a := range allocs {
			used[a.Backend-p.Start] = true
		}
		for slot := 0; slot < p.Size; slot++ {
			if !used[slot] {
				backend = p.Start + slot
				frontend = p.Start + 100 + slot
				allocs[workflowID] = Allocation{
					WorkflowID:  workflowID,
					Backend:     backend,
					Frontend:    frontend,
					AllocatedAt: time.Now().UTC(),
				}
				return allocs, nil
			}
		}
		return nil, fmt.Errorf("ports: reserve %q: %w", workflowID, forgeerr.ErrPortPoolExhausted)
	})
	return backend, frontend, err
}

// Release frees workflowID's allocation, if any, returning whether one was
// present.
func (p *Pool) Release(workflowID string) (bool, error) {
	var released bool
	err := p.withLock(func(allocs map[string]Allocation) (map[string]Allocation, error) {
		if _, ok := allocs[workflowID]; !ok {
			return nil, nil
		}
		released = true
		delete(allocs, workflowID)
		return allocs, nil
	})
	return released, err
}

// AllocationOf returns workflowID's current allocation, if any.
func (p *Pool) AllocationOf(workflowID string) (*Allocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	allocs, err := p.load()
	if err != nil {
		return nil, err
	}
	if a, ok := allocs[workflowID]; ok {
		return &a, nil
	}
	return nil, nil
}

// CleanupStale removes allocations older than maxAge and returns the count
// removed.
func (p *Pool) CleanupStale(maxAge time.Duration) (int, error) {
	var removed int
	err := p.withLock(func(allocs map[string]Allocation) (map[string]Allocation, error) {
		cutoff := time.Now().UTC().Add(-maxAge)
		for id, a := range allocs {
			if a.AllocatedAt.Before(cutoff) {
				delete(allocs, id)
				removed++
			}
		}
		if removed == 0 {
			return nil, nil
		}
		return allocs, nil
	})
	return removed, err
}
