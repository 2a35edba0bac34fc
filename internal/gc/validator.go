package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/objectstore"
	"github.com/reclaim-io/reclaim/internal/record"
)

// Outcome is the terminal state of one Validator.Process call.
type Outcome int

const (
	// OutcomeDeleted: the storage-unit and its candidate entry were removed.
	OutcomeDeleted Outcome = iota
	// OutcomeDiscarded: the storage-unit is still referenced; only the
	// candidate entry was removed.
	OutcomeDiscarded
	// OutcomeSkippedLive: the creating instance may still be writing.
	OutcomeSkippedLive
	// OutcomeSkippedYoung: the candidate is younger than the minimum age.
	OutcomeSkippedYoung
	// OutcomeAborted: a transient failure; nothing or only the object was
	// removed and the candidate stays for a later pass.
	OutcomeAborted
	// OutcomeAlreadyResolved: the candidate entry no longer exists.
	OutcomeAlreadyResolved
	// OutcomeCorrupt: a payload could not be decoded.
	OutcomeCorrupt
)

var outcomeNames = map[Outcome]string{
	OutcomeDeleted:         "deleted",
	OutcomeDiscarded:       "discarded",
	OutcomeSkippedLive:     "skipped_live",
	OutcomeSkippedYoung:    "skipped_young",
	OutcomeAborted:         "aborted",
	OutcomeAlreadyResolved: "already_resolved",
	OutcomeCorrupt:         "corrupt",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Outcomes lists every outcome, in declaration order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeDeleted, OutcomeDiscarded, OutcomeSkippedLive, OutcomeSkippedYoung,
		OutcomeAborted, OutcomeAlreadyResolved, OutcomeCorrupt,
	}
}

// Result is returned by Validator.Process.
type Result struct {
	Key     string
	Outcome Outcome
	Err     error
}

// Resolved reports whether the candidate needs no further processing.
func (r Result) Resolved() bool {
	switch r.Outcome {
	case OutcomeDeleted, OutcomeDiscarded, OutcomeAlreadyResolved:
		return true
	}
	return false
}

// ValidatorConfig configures the validator.
type ValidatorConfig struct {
	// ProbableDeleteIndexID is the index holding candidates. Required.
	ProbableDeleteIndexID string

	// MinAge re-applies the leak-processing delay to the freshly read
	// candidate. Zero disables the check.
	MinAge time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validator decides the fate of one candidate and carries it out.
type Validator struct {
	idx      index.Client
	store    objectstore.Store
	liveness LivenessChecker
	cfg      ValidatorConfig
	logger   *logging.Logger
	metrics  ValidatorMetrics
}

// NewValidator creates a Validator. metrics may be nil.
func NewValidator(idx index.Client, store objectstore.Store, liveness LivenessChecker, cfg ValidatorConfig, logger *logging.Logger, metrics ValidatorMetrics) (*Validator, error) {
	if idx == nil || store == nil || liveness == nil {
		return nil, errors.New("gc: validator needs an index client, an object store and a liveness checker")
	}
	if cfg.ProbableDeleteIndexID == "" {
		return nil, errors.New("gc: probable-delete index id is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Validator{
		idx:      idx,
		store:    store,
		liveness: liveness,
		cfg:      cfg,
		logger:   logger.WithComponent("validator"),
		metrics:  metrics,
	}, nil
}

// Process resolves the candidate named by entry. The entry value is only a
// hint: the candidate is re-read from the probable-delete index first and
// every decision is made on the current state.
func (v *Validator) Process(ctx context.Context, entry index.Entry) Result {
	start := time.Now()
	log := logging.FromCtx(ctx, v.logger).WithCandidate(entry.Key)

	res := v.process(ctx, entry.Key, log)
	res.Key = entry.Key

	if v.metrics != nil {
		v.metrics.RecordOutcome(res.Outcome.String(), time.Since(start).Seconds())
	}
	fields := map[string]any{"outcome": res.Outcome.String()}
	switch {
	case res.Outcome == OutcomeCorrupt:
		log.Corruption("candidate dropped", res.Err, fields)
	case res.Err != nil:
		fields["error"] = res.Err.Error()
		log.Errorf("candidate not resolved", fields)
	default:
		log.Infof("candidate processed", fields)
	}
	return res
}

func (v *Validator) process(ctx context.Context, key string, log *logging.Logger) Result {
	value, err := v.idx.Get(ctx, v.cfg.ProbableDeleteIndexID, key)
	switch index.StatusOf(err) {
	case index.StatusOK:
	case index.StatusNotFound:
		return Result{Outcome: OutcomeAlreadyResolved}
	default:
		return Result{Outcome: OutcomeAborted, Err: fmt.Errorf("read candidate: %w", err)}
	}

	cand, err := record.ParseProbableDelete(key, value)
	if err != nil {
		return Result{Outcome: OutcomeCorrupt, Err: err}
	}
	if v.cfg.MinAge > 0 && cand.Age(v.cfg.Now()) < v.cfg.MinAge {
		return Result{Outcome: OutcomeSkippedYoung}
	}

	// CheckLiveness
	active, err := v.liveness.IsActive(ctx, cand.GlobalInstanceID)
	if err != nil {
		log.Errorf("instance listing failed, treating instance as active", map[string]any{
			"instance": cand.GlobalInstanceID,
			"error":    err.Error(),
		})
		return Result{Outcome: OutcomeSkippedLive}
	}
	if active {
		log.Debugf("instance still active", map[string]any{"instance": cand.GlobalInstanceID})
		return Result{Outcome: OutcomeSkippedLive}
	}

	// ResolveMetadata
	mdValue, err := v.idx.Get(ctx, cand.IndexID, cand.ObjectMetadataPath)
	switch index.StatusOf(err) {
	case index.StatusOK:
		md, err := record.ParseObjectMetadata(mdValue)
		if err != nil {
			return Result{Outcome: OutcomeCorrupt, Err: err}
		}
		current, err := md.CurrentOID()
		if err != nil {
			return Result{Outcome: OutcomeCorrupt, Err: fmt.Errorf("%w: %s/%s: %v", record.ErrCorrupt, cand.IndexID, cand.ObjectMetadataPath, err)}
		}
		if current == cand.Key {
			log.Debugf("storage-unit still referenced", map[string]any{"path": cand.ObjectMetadataPath})
			return v.discard(ctx, cand, OutcomeDiscarded)
		}
	case index.StatusNotFound:
		log.Debugf("object metadata gone", map[string]any{"path": cand.ObjectMetadataPath})
	default:
		return Result{Outcome: OutcomeAborted, Err: fmt.Errorf("read metadata %s/%s: %w", cand.IndexID, cand.ObjectMetadataPath, err)}
	}

	// PhysicalDelete
	if err := v.store.Delete(ctx, cand.Key, cand.ObjectLayoutID); err != nil && !objectstore.IsNotFound(err) {
		return Result{Outcome: OutcomeAborted, Err: fmt.Errorf("delete storage-unit: %w", err)}
	}
	return v.discard(ctx, cand, OutcomeDeleted)
}

// discard removes the candidate entry. A missing entry means another
// consumer got there first.
func (v *Validator) discard(ctx context.Context, cand record.ProbableDelete, outcome Outcome) Result {
	err := v.idx.Delete(ctx, v.cfg.ProbableDeleteIndexID, cand.Key)
	if err != nil && !index.IsNotFound(err) {
		return Result{Outcome: OutcomeAborted, Err: fmt.Errorf("delete candidate: %w", err)}
	}
	return Result{Outcome: outcome}
}
