package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
)

// Target names one physical copy of an index.
type Target struct {
	Client  index.Client
	IndexID string
}

func (t Target) same(o Target) bool {
	return t.Client == o.Client && t.IndexID == o.IndexID
}

// RecoverConfig configures a Recoverer.
type RecoverConfig struct {
	Primary Target
	Replica Target

	// Destination receives the resolved values. Defaults to Primary.
	Destination Target

	// PageSize is the LIST page size used to load both copies.
	PageSize int

	// DryRun computes the union without mutating anything.
	DryRun bool

	// Cleanup deletes each resolved key from every source that is not the
	// destination once the destination write succeeded.
	Cleanup bool

	// Snapshot, when set, receives the union before any mutation.
	Snapshot func(Union) error
}

// Report summarizes a recovery run.
type Report struct {
	Union   Union
	Written int
	Cleaned int
	Failed  int
}

// Recoverer merges a replica pair and optionally writes the result back.
type Recoverer struct {
	cfg    RecoverConfig
	logger *logging.Logger
}

// NewRecoverer validates cfg and creates a Recoverer.
func NewRecoverer(cfg RecoverConfig, logger *logging.Logger) (*Recoverer, error) {
	if cfg.Primary.Client == nil || cfg.Primary.IndexID == "" {
		return nil, errors.New("reconcile: primary index is required")
	}
	if cfg.Replica.Client == nil || cfg.Replica.IndexID == "" {
		return nil, errors.New("reconcile: replica index is required")
	}
	if cfg.Primary.same(cfg.Replica) {
		return nil, errors.New("reconcile: primary and replica are the same index")
	}
	if cfg.Destination.Client == nil {
		cfg.Destination.Client = cfg.Primary.Client
	}
	if cfg.Destination.IndexID == "" {
		cfg.Destination.IndexID = cfg.Primary.IndexID
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Recoverer{cfg: cfg, logger: logger.WithComponent("reconcile")}, nil
}

// Load reads both copies and merges them.
func (r *Recoverer) Load(ctx context.Context) (Union, error) {
	primary, err := index.ListAll(ctx, r.cfg.Primary.Client, r.cfg.Primary.IndexID, r.cfg.PageSize)
	if err != nil {
		return Union{}, fmt.Errorf("reconcile: list primary %s: %w", r.cfg.Primary.IndexID, err)
	}
	replica, err := index.ListAll(ctx, r.cfg.Replica.Client, r.cfg.Replica.IndexID, r.cfg.PageSize)
	if err != nil {
		return Union{}, fmt.Errorf("reconcile: list replica %s: %w", r.cfg.Replica.IndexID, err)
	}
	r.logger.Infof("loaded replica pair", map[string]any{
		"primary":     r.cfg.Primary.IndexID,
		"replica":     r.cfg.Replica.IndexID,
		"primaryKeys": len(primary),
		"replicaKeys": len(replica),
	})
	return Merge(primary, replica, r.logger), nil
}

// Run loads and merges the pair, hands the union to the snapshot hook and,
// unless DryRun is set, writes every kept value to the destination. A key
// whose destination write fails is not cleaned up. Per-key failures are
// counted in the report; the returned error is only set for load and
// snapshot failures.
func (r *Recoverer) Run(ctx context.Context) (Report, error) {
	u, err := r.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Union: u}

	if r.cfg.Snapshot != nil {
		if err := r.cfg.Snapshot(u); err != nil {
			return rep, fmt.Errorf("reconcile: snapshot: %w", err)
		}
	}
	if r.cfg.DryRun {
		return rep, nil
	}

	for _, d := range u.Kept() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		log := r.logger.WithCandidate(d.Key)
		if err := r.cfg.Destination.Client.Put(ctx, r.cfg.Destination.IndexID, d.Key, d.Value); err != nil {
			rep.Failed++
			log.Errorf("recover: write failed", map[string]any{"error": err.Error(), "index": r.cfg.Destination.IndexID})
			continue
		}
		rep.Written++

		if !r.cfg.Cleanup {
			continue
		}
		if r.cleanup(ctx, d.Key) {
			rep.Cleaned++
		} else {
			rep.Failed++
		}
	}

	r.logger.Infof("recovery finished", map[string]any{
		"written": rep.Written,
		"cleaned": rep.Cleaned,
		"failed":  rep.Failed,
		"dropped": len(u.Dropped()),
	})
	return rep, nil
}

// cleanup deletes key from every source other than the destination. A
// missing key counts as deleted.
func (r *Recoverer) cleanup(ctx context.Context, key string) bool {
	ok := true
	for _, src := range []Target{r.cfg.Primary, r.cfg.Replica} {
		if src.same(r.cfg.Destination) {
			continue
		}
		err := src.Client.Delete(ctx, src.IndexID, key)
		if err != nil && !index.IsNotFound(err) {
			ok = false
			r.logger.WithCandidate(key).Errorf("recover: cleanup failed", map[string]any{
				"error": err.Error(),
				"index": src.IndexID,
			})
		}
	}
	return ok
}
