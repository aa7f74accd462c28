// services/reconciler.go
package services

import (
	"log"
	"time"
)

// ExistingRow is what the reconciler needs to know about a previously
// mirrored, currently active row in the scope being synced.
type ExistingRow struct {
	Key          string
	LastSyncedAt time.Time
}

// ReconcilePlan is the write plan for one scope: everything fetched gets
// upserted, and active rows that were not observed — and have been
// stale longer than the grace window — get deactivated. The caller
// performs the actual writes.
type ReconcilePlan[T any] struct {
	ToUpsert     []T
	ToDeactivate []string
	Added        int
	Updated      int
	Dropped      int
}

// Reconcile diffs a freshly fetched entity set against the previously
// mirrored set for the same scope. keyOf must return the same conflict
// key the store upserts on; returning "" marks the record malformed and
// it is dropped with a warning rather than failing the batch.
//
// The grace window is what makes incremental fetches safe: an
// incremental run deliberately covers only part of the population, so
// "absent from this fetch" only implies "gone remotely" once the row has
// also not been seen by any run for longer than the window.
func Reconcile[T any](scope string, fetched []T, keyOf func(T) string, existing []ExistingRow, grace time.Duration, now time.Time) ReconcilePlan[T] {
	plan := ReconcilePlan[T]{}

	existingByKey := make(map[string]ExistingRow, len(existing))
	for _, row := range existing {
		existingByKey[row.Key] = row
	}

	fetchedKeys := make(map[string]bool, len(fetched))
	for _, rec := range fetched {
		key := keyOf(rec)
		if key == "" {
			plan.Dropped++
			log.Printf("[RECONCILE] ⚠️ Dropping record with no identity key (scope=%s)", scope)
			continue
		}
		fetchedKeys[key] = true
		plan.ToUpsert = append(plan.ToUpsert, rec)
		if _, seen := existingByKey[key]; seen {
			plan.Updated++
		} else {
			plan.Added++
		}
	}

	cutoff := now.Add(-grace)
	for _, row := range existing {
		if fetchedKeys[row.Key] {
			continue
		}
		if row.LastSyncedAt.After(cutoff) {
			// Seen recently by some other run; this fetch just didn't
			// cover it.
			continue
		}
		plan.ToDeactivate = append(plan.ToDeactivate, row.Key)
	}

	if plan.Dropped > 0 {
		log.Printf("[RECONCILE] ⚠️ %d of %d fetched record(s) dropped as malformed (scope=%s)", plan.Dropped, len(fetched), scope)
	}
	return plan
}
