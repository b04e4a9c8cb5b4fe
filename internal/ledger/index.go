package ledger

import "sort"

// appendIndexes adds rec to every index dimension of the schema.
func appendIndexes(tx Tx, schema Schema, rec Record) error {
	for _, idx := range schema.Indexes {
		party := rec.Parties[idx.Role]
		if err := tx.Append(idx.Name, party, rec.Key, rec.Seq); err != nil {
			return wrapBackend("append index "+idx.Name, err)
		}
	}
	return nil
}

func listIndex(r Reader, dimension string, party Identity) ([]IndexEntry, error) {
	entries, err := r.List(dimension, party)
	if err != nil {
		return nil, wrapBackend("list index "+dimension, err)
	}
	return entries, nil
}

// mergeEntries combines index lists into write order. A key that appears in
// several lists is kept once.
func mergeEntries(lists ...[]IndexEntry) []IndexEntry {
	seen := make(map[string]bool)
	merged := make([]IndexEntry, 0)
	for _, list := range lists {
		for _, e := range list {
			if seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}
