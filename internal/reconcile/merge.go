// Package reconcile merges two physically separate copies of an index (a
// primary and a replica) with last-write-wins semantics on the values'
// create_timestamp. It backs the replicated liveness check of the
// validator and the operator driven disaster recovery.
package reconcile

import (
	"time"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/record"
)

// Winner names the side whose value a Decision kept.
type Winner int

const (
	// WinnerNone means the key was dropped.
	WinnerNone Winner = iota
	WinnerPrimary
	WinnerReplica
)

func (w Winner) String() string {
	switch w {
	case WinnerPrimary:
		return "primary"
	case WinnerReplica:
		return "replica"
	default:
		return "none"
	}
}

// Reasons recorded on a Decision.
const (
	ReasonPrimaryOnly  = "primary_only"
	ReasonReplicaOnly  = "replica_only"
	ReasonNewer        = "newer"
	ReasonTie          = "tie"
	ReasonOtherCorrupt = "other_corrupt"
	ReasonBothCorrupt  = "both_corrupt"
)

// Pair holds both copies of one key. A side is absent when its In flag is
// false.
type Pair struct {
	Key       string
	Primary   string
	Replica   string
	InPrimary bool
	InReplica bool
}

// Decision is the outcome of resolving a Pair.
type Decision struct {
	Key    string
	Value  string
	Winner Winner
	Reason string
}

// Dropped reports whether neither side was kept.
func (d Decision) Dropped() bool {
	return d.Winner == WinnerNone
}

// MergeKeys returns the union of the keys of both sides: primary keys in
// primary order, then the keys only the replica has, in replica order.
func MergeKeys(primary, replica []index.Entry) []string {
	seen := make(map[string]struct{}, len(primary)+len(replica))
	keys := make([]string, 0, len(primary)+len(replica))
	for _, e := range primary {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		keys = append(keys, e.Key)
	}
	for _, e := range replica {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		keys = append(keys, e.Key)
	}
	return keys
}

// Pairs lines up both sides in MergeKeys order.
func Pairs(primary, replica []index.Entry) []Pair {
	pv := toMap(primary)
	rv := toMap(replica)
	keys := MergeKeys(primary, replica)
	out := make([]Pair, 0, len(keys))
	for _, k := range keys {
		p, inP := pv[k]
		r, inR := rv[k]
		out = append(out, Pair{Key: k, Primary: p, Replica: r, InPrimary: inP, InReplica: inR})
	}
	return out
}

func toMap(entries []index.Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, dup := m[e.Key]; !dup {
			m[e.Key] = e.Value
		}
	}
	return m
}

// Resolve picks the surviving value of p.
//
// A value present on one side only is taken as is. When both sides hold a
// value, an unparsable side loses to a parsable one and the later
// create_timestamp wins; equal timestamps keep the primary. A value that
// parses as JSON but has no valid create_timestamp counts as unparsable.
// When neither side parses the key is dropped.
func Resolve(p Pair) Decision {
	d := Decision{Key: p.Key}
	switch {
	case p.InPrimary && !p.InReplica:
		d.Value, d.Winner, d.Reason = p.Primary, WinnerPrimary, ReasonPrimaryOnly
		return d
	case p.InReplica && !p.InPrimary:
		d.Value, d.Winner, d.Reason = p.Replica, WinnerReplica, ReasonReplicaOnly
		return d
	case !p.InPrimary && !p.InReplica:
		d.Reason = ReasonBothCorrupt
		return d
	}

	pts, pOK := timestampOf(p.Primary)
	rts, rOK := timestampOf(p.Replica)
	switch {
	case !pOK && !rOK:
		d.Reason = ReasonBothCorrupt
	case !rOK:
		d.Value, d.Winner, d.Reason = p.Primary, WinnerPrimary, ReasonOtherCorrupt
	case !pOK:
		d.Value, d.Winner, d.Reason = p.Replica, WinnerReplica, ReasonOtherCorrupt
	case rts.After(pts):
		d.Value, d.Winner, d.Reason = p.Replica, WinnerReplica, ReasonNewer
	case pts.After(rts):
		d.Value, d.Winner, d.Reason = p.Primary, WinnerPrimary, ReasonNewer
	default:
		d.Value, d.Winner, d.Reason = p.Primary, WinnerPrimary, ReasonTie
	}
	return d
}

func timestampOf(value string) (time.Time, bool) {
	ts, parsed, err := record.CreateTimestampOf(value)
	if !parsed || err != nil {
		return time.Time{}, false
	}
	return ts, true
}
