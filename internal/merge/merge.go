// Package merge reconciles two exported snapshots plus their deletion
// tombstones into one. Conflict resolution is at whole-record granularity:
// for a record present on both sides the strictly later UpdatedAt wins, and
// on an exact tie the local copy wins. The service never mutates its inputs.
package merge

import (
	"time"

	"github.com/google/uuid"

	"github.com/hearthvault/hearthvault/internal/model"
)

// DefaultRetention is how long tombstones are kept. They exist only to
// resolve races between replicas that have been offline; once both sides
// have almost certainly converged they are pure bookkeeping overhead.
const DefaultRetention = 30 * 24 * time.Hour

// Service merges snapshots.
type Service struct {
	retention time.Duration
	now       func() time.Time
}

// New creates a merge service. A zero retention selects DefaultRetention.
func New(retention time.Duration) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{retention: retention, now: time.Now}
}

// WithClock overrides the clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type deathKey struct {
	typ model.EntityType
	id  uuid.UUID
}

// Merge combines local and remote snapshots and their tombstones. The
// result contains, per collection, the union of both sides with the later
// edit winning, minus records whose tombstone is newer than their last
// edit. Settings merge whole-object by UpdatedAt; replica-local settings
// fields are the caller's responsibility to restore afterwards.
func (s *Service) Merge(local, remote *model.ExportedData, localTombstones, remoteTombstones []model.Tombstone) (*model.ExportedData, []model.Tombstone) {
	// The dead-map is built from the full union: a tombstone past the
	// retention window must still remove its record on the merge that first
	// sees it. Only the returned list is pruned.
	union := unionTombstones(localTombstones, remoteTombstones)

	dead := make(map[deathKey]time.Time, len(union))
	for _, t := range union {
		dead[deathKey{t.EntityType, t.ID}] = t.DeletedAt
	}
	tombstones := s.pruneExpired(union)

	if local == nil {
		local = &model.ExportedData{}
	}
	if remote == nil {
		remote = &model.ExportedData{}
	}

	out := &model.ExportedData{
		FamilyMembers:  mergeCollection(local.FamilyMembers, remote.FamilyMembers, model.EntityFamilyMember, dead),
		Accounts:       mergeCollection(local.Accounts, remote.Accounts, model.EntityAccount, dead),
		Transactions:   mergeCollection(local.Transactions, remote.Transactions, model.EntityTransaction, dead),
		Assets:         mergeCollection(local.Assets, remote.Assets, model.EntityAsset, dead),
		Goals:          mergeCollection(local.Goals, remote.Goals, model.EntityGoal, dead),
		RecurringItems: mergeCollection(local.RecurringItems, remote.RecurringItems, model.EntityRecurring, dead),
		Todos:          mergeCollection(local.Todos, remote.Todos, model.EntityTodo, dead),
		Activities:     mergeCollection(local.Activities, remote.Activities, model.EntityActivity, dead),
		Budgets:        mergeCollection(local.Budgets, remote.Budgets, model.EntityBudget, dead),
		Settings:       mergeSettings(local.Settings, remote.Settings),
		Tombstones:     tombstones,
	}
	return out, tombstones
}

// mergeCollection unions two collections by ID, keeping local insertion
// order for records known locally and appending remote-only records in
// remote order. A record whose tombstone DeletedAt is strictly newer than
// its UpdatedAt is dropped; a record edited after its own tombstone
// survives (recreate-after-delete).
func mergeCollection[T model.Entity](local, remote []T, typ model.EntityType, dead map[deathKey]time.Time) []T {
	remoteByID := make(map[uuid.UUID]T, len(remote))
	for _, r := range remote {
		remoteByID[r.EntityID()] = r
	}

	seen := make(map[uuid.UUID]bool, len(local))
	out := make([]T, 0, len(local)+len(remote))

	keep := func(rec T) bool {
		deletedAt, ok := dead[deathKey{typ, rec.EntityID()}]
		return !ok || !deletedAt.After(rec.ModifiedAt())
	}

	for _, l := range local {
		id := l.EntityID()
		seen[id] = true
		winner := l
		if r, ok := remoteByID[id]; ok && r.ModifiedAt().After(l.ModifiedAt()) {
			winner = r
		}
		if keep(winner) {
			out = append(out, winner)
		}
	}
	for _, r := range remote {
		if seen[r.EntityID()] {
			continue
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// mergeSettings picks the whole settings object with the newer UpdatedAt;
// nil on either side defers to the other. There is no field-level merge.
func mergeSettings(local, remote *model.Settings) *model.Settings {
	switch {
	case local == nil:
		return remote.Clone()
	case remote == nil:
		return local.Clone()
	case remote.UpdatedAt.After(local.UpdatedAt):
		return remote.Clone()
	default:
		return local.Clone()
	}
}

// unionTombstones unions tombstones by ID keeping the newer DeletedAt per
// identifier.
func unionTombstones(local, remote []model.Tombstone) []model.Tombstone {
	byID := make(map[uuid.UUID]int)
	out := make([]model.Tombstone, 0, len(local)+len(remote))
	add := func(t model.Tombstone) {
		if i, ok := byID[t.ID]; ok {
			if t.DeletedAt.After(out[i].DeletedAt) {
				out[i] = t
			}
			return
		}
		byID[t.ID] = len(out)
		out = append(out, t)
	}
	for _, t := range local {
		add(t)
	}
	for _, t := range remote {
		add(t)
	}
	return out
}

// pruneExpired drops tombstones older than the retention window.
func (s *Service) pruneExpired(tombstones []model.Tombstone) []model.Tombstone {
	cutoff := s.now().Add(-s.retention)

	pruned := make([]model.Tombstone, 0, len(tombstones))
	for _, t := range tombstones {
		if t.DeletedAt.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}

// Changed reports whether merged differs from the remote snapshot it was
// built from, to decide whether a save-back is needed. Collection lengths
// are compared first, then per-record UpdatedAt by identifier. Settings are
// deliberately excluded so that merely loading never triggers a save loop
// between replicas.
func Changed(merged, remote *model.ExportedData) bool {
	if merged == nil || remote == nil {
		return merged != remote
	}
	return collectionChanged(merged.FamilyMembers, remote.FamilyMembers) ||
		collectionChanged(merged.Accounts, remote.Accounts) ||
		collectionChanged(merged.Transactions, remote.Transactions) ||
		collectionChanged(merged.Assets, remote.Assets) ||
		collectionChanged(merged.Goals, remote.Goals) ||
		collectionChanged(merged.RecurringItems, remote.RecurringItems) ||
		collectionChanged(merged.Todos, remote.Todos) ||
		collectionChanged(merged.Activities, remote.Activities) ||
		collectionChanged(merged.Budgets, remote.Budgets)
}

func collectionChanged[T model.Entity](merged, remote []T) bool {
	if len(merged) != len(remote) {
		return true
	}
	remoteByID := make(map[uuid.UUID]time.Time, len(remote))
	for _, r := range remote {
		remoteByID[r.EntityID()] = r.ModifiedAt()
	}
	for _, m := range merged {
		at, ok := remoteByID[m.EntityID()]
		if !ok || !at.Equal(m.ModifiedAt()) {
			return true
		}
	}
	return false
}
