package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/model"
)

// keyedLocks serializes merges per listing id so concurrent stages
// read-merge-write without clobbering each other's fields.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// merge applies one stage's contribution to the stored record: read the
// current record, let the stage write only its own fields, rewrite. The
// per-id lock makes the read-merge-write atomic against sibling stages;
// stages for different listings never contend.
func (o *Orchestrator) merge(ctx context.Context, id string, apply func(cur *model.Listing)) error {
	lock := o.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := o.store.GetListing(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "merge: read %s", id)
	}
	apply(cur)
	cur.UpdatedAt = time.Now().UTC()
	if err := o.store.UpsertListing(ctx, cur); err != nil {
		return eris.Wrapf(err, "merge: write %s", id)
	}
	return nil
}
