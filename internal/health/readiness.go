package health

import (
	"context"
	"errors"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/objectstore"
)

// healthKey is read from the index and the object store to prove they answer.
// It is never written.
const healthKey = "reclaim-health-check"

// IndexChecker implements ReadinessChecker for the index service. It issues
// a Get on a key that does not exist; NotFound proves reachability.
type IndexChecker struct {
	client  index.Client
	indexID string
}

// NewIndexChecker creates a new IndexChecker probing indexID.
func NewIndexChecker(client index.Client, indexID string) *IndexChecker {
	return &IndexChecker{client: client, indexID: indexID}
}

// Name returns the name of this component for health status display.
func (c *IndexChecker) Name() string {
	return "index"
}

// CheckReady verifies the index service responds.
func (c *IndexChecker) CheckReady(ctx context.Context) error {
	if c.client == nil {
		return errors.New("index client not configured")
	}
	_, err := c.client.Get(ctx, c.indexID, healthKey)
	if err != nil && !index.IsNotFound(err) {
		return err
	}
	return nil
}

// ObjectStoreChecker implements ReadinessChecker for the object store. It
// issues a Head on a storage-unit that does not exist.
type ObjectStoreChecker struct {
	store objectstore.Store
}

// NewObjectStoreChecker creates a new ObjectStoreChecker.
func NewObjectStoreChecker(store objectstore.Store) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store}
}

// Name returns the name of this component for health status display.
func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

// CheckReady verifies the object store responds. Access denied and a
// missing bucket are reported; a missing storage-unit is expected.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	_, err := c.store.Head(ctx, healthKey, 0)
	if err == nil || objectstore.IsNotFound(err) {
		return nil
	}
	return err
}

// WorkerChecker reports a background worker as not ready while it is
// stopped.
type WorkerChecker struct {
	name      string
	isRunning func() bool
}

// NewWorkerChecker creates a new WorkerChecker.
func NewWorkerChecker(name string, isRunning func() bool) *WorkerChecker {
	return &WorkerChecker{name: name, isRunning: isRunning}
}

// Name returns the worker name.
func (c *WorkerChecker) Name() string {
	return c.name
}

// CheckReady returns an error while the worker is stopped.
func (c *WorkerChecker) CheckReady(context.Context) error {
	if c.isRunning == nil {
		return nil
	}
	if !c.isRunning() {
		return errors.New(c.name + " is not running")
	}
	return nil
}

// FuncChecker is a ReadinessChecker that wraps a function.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a new FuncChecker with the given name and check function.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Name returns the name of this component.
func (c *FuncChecker) Name() string {
	return c.name
}

// CheckReady calls the wrapped function.
func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
