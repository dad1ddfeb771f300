package services

// BulkResult reports which names a bulk call applied and which it skipped because they
// did not resolve to a catalog entry.
type BulkResult struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
}

// SyncResult reports the changes a reconcile call made.
type SyncResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped,omitempty"`
}

// Unchanged reports whether the call found the target already in the desired state.
func (r *SyncResult) Unchanged() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// splitResolved partitions names into those present in known and those that are not,
// dropping duplicates while keeping first-seen order.
func splitResolved(names []string, known map[string]uint) (resolved, skipped []string) {
	resolved, skipped = []string{}, []string{}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := known[name]; ok {
			resolved = append(resolved, name)
		} else {
			skipped = append(skipped, name)
		}
	}
	return resolved, skipped
}
