// Package gc implements deferred deletion of superseded storage-units.
//
// # Pipeline
//
// The storage write path records a probable-delete candidate whenever an
// object is overwritten or an upload is abandoned. The [Scheduler] lists
// candidates from the probable-delete index, drops the ones younger than
// the leak-processing delay and publishes the rest to the work queue.
// A [Consumer] receives candidates (from the queue, or straight from the
// index) and hands each one to the [Validator], which decides:
//
//	CheckLiveness -> ResolveMetadata -> PhysicalDelete -> DiscardCandidateOnly
//
// A candidate whose writer is still registered in the global instance
// index is left alone. A candidate still referenced by its object metadata
// only loses its index entry. Anything else is deleted from the object
// store first, and its index entry is removed only after that delete
// succeeded.
//
// # Usage
//
//	sched, err := gc.NewScheduler(idx, session, gc.SchedulerConfig{
//	    ProbableDeleteIndexID: "probable-delete",
//	    Interval:              5 * time.Minute,
//	}, logger, metrics)
//	if err != nil {
//	    return err
//	}
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Every operation is idempotent: reprocessing a candidate that is already
// resolved observes not-found and returns [OutcomeAlreadyResolved].
package gc
