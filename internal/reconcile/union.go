package reconcile

import (
	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
)

// Union is the merged view of a replica pair.
type Union struct {
	// Decisions holds every key in MergeKeys order, dropped keys included.
	Decisions []Decision
}

// Merge resolves every key of both sides. Dropped keys are logged as a
// warning; every decision is logged at debug for audit.
func Merge(primary, replica []index.Entry, logger *logging.Logger) Union {
	if logger == nil {
		logger = logging.Global()
	}
	pairs := Pairs(primary, replica)
	u := Union{Decisions: make([]Decision, 0, len(pairs))}
	for _, p := range pairs {
		d := Resolve(p)
		if d.Dropped() {
			logger.WithCandidate(d.Key).Warnf("dropping key: neither copy is valid", map[string]any{
				"reason": d.Reason,
			})
		} else {
			logger.WithCandidate(d.Key).Debugf("resolved key", map[string]any{
				"winner": d.Winner.String(),
				"reason": d.Reason,
			})
		}
		u.Decisions = append(u.Decisions, d)
	}
	return u
}

// Kept returns the non-dropped decisions in order.
func (u Union) Kept() []Decision {
	out := make([]Decision, 0, len(u.Decisions))
	for _, d := range u.Decisions {
		if !d.Dropped() {
			out = append(out, d)
		}
	}
	return out
}

// Dropped returns the keys neither side could supply.
func (u Union) Dropped() []string {
	var out []string
	for _, d := range u.Decisions {
		if d.Dropped() {
			out = append(out, d.Key)
		}
	}
	return out
}
