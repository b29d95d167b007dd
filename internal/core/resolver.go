package core

import "time"

// Resolve computes the current candidate member ids of a collection against
// a catalog snapshot.
//
// A collection outside its active window resolves empty regardless of type.
// Manual collections keep their stored order, silently dropping ids no
// longer present in the snapshot. Automatic collections scan the full
// snapshot; the scan establishes no guaranteed order, ordering is Order's
// job.
func Resolve(c Collection, snap *Snapshot, now time.Time) []string {
	if !c.ActiveAt(now) {
		return nil
	}

	switch c.Type {
	case CollectionManual:
		ids := make([]string, 0, len(c.MemberIDs))
		for _, id := range c.MemberIDs {
			if _, ok := snap.Lookup(id); ok {
				ids = append(ids, id)
			}
		}
		return ids
	case CollectionAutomatic:
		var ids []string
		for _, p := range snap.Products {
			if c.Rules.Member(p) {
				ids = append(ids, p.ID)
			}
		}
		return ids
	default:
		return nil
	}
}
