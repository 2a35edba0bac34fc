package gc

import (
	"context"
	"errors"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/reconcile"
)

// LivenessChecker reports whether a service instance may still be writing.
type LivenessChecker interface {
	IsActive(ctx context.Context, instanceID string) (bool, error)
}

// InstanceCheckerConfig configures an InstanceChecker.
type InstanceCheckerConfig struct {
	// IndexID is the global instance index. Required.
	IndexID string

	// ReplicaIndexID, when set, names a second copy of the instance index.
	// Both copies are loaded and an instance listed on either side is
	// active.
	ReplicaIndexID string

	// PageSize is the LIST page size.
	// Default: index.DefaultMaxKeys
	PageSize int
}

// InstanceChecker looks instance ids up in the global instance index. The
// index values are the live instance ids.
type InstanceChecker struct {
	idx    index.Client
	cfg    InstanceCheckerConfig
	logger *logging.Logger
}

// NewInstanceChecker creates an InstanceChecker.
func NewInstanceChecker(idx index.Client, cfg InstanceCheckerConfig, logger *logging.Logger) (*InstanceChecker, error) {
	if idx == nil {
		return nil, errors.New("gc: instance checker needs an index client")
	}
	if cfg.IndexID == "" {
		return nil, errors.New("gc: global instance index id is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = index.DefaultMaxKeys
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &InstanceChecker{idx: idx, cfg: cfg, logger: logger.WithComponent("liveness")}, nil
}

// IsActive pages through the instance index and stops at the first entry
// whose value is instanceID. An empty instanceID is never active.
func (c *InstanceChecker) IsActive(ctx context.Context, instanceID string) (bool, error) {
	if instanceID == "" {
		return false, nil
	}
	if c.cfg.ReplicaIndexID != "" {
		return c.isActiveReplicated(ctx, instanceID)
	}

	found := false
	err := index.Each(ctx, c.idx, c.cfg.IndexID, c.cfg.PageSize, func(e index.Entry) (bool, error) {
		if e.Value == instanceID {
			found = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (c *InstanceChecker) isActiveReplicated(ctx context.Context, instanceID string) (bool, error) {
	primary, err := index.ListAll(ctx, c.idx, c.cfg.IndexID, c.cfg.PageSize)
	if err != nil {
		return false, err
	}
	replica, err := index.ListAll(ctx, c.idx, c.cfg.ReplicaIndexID, c.cfg.PageSize)
	if err != nil {
		return false, err
	}

	for _, p := range reconcile.Pairs(primary, replica) {
		if (p.InPrimary && p.Primary == instanceID) || (p.InReplica && p.Replica == instanceID) {
			c.logger.Debugf("instance live", map[string]any{
				"instance":  instanceID,
				"key":       p.Key,
				"inPrimary": p.InPrimary,
				"inReplica": p.InReplica,
			})
			return true, nil
		}
	}
	return false, nil
}
