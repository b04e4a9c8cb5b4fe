package ledger

import (
	"context"
	"fmt"
)

// AuditReport is the result of checking a ledger's stored state against its
// own invariants.
type AuditReport struct {
	Ledger   string   `json:"ledger"`
	Records  int      `json:"records"`
	Sequence uint64   `json:"sequence"`
	Problems []string `json:"problems"`
}

// OK reports whether the audit found no problems.
func (r AuditReport) OK() bool { return len(r.Problems) == 0 }

// Audit re-reads every record and checks that digests verify, that sequence
// numbers run 1..n without gaps, and that every record is present in each
// of its index lists.
func (l *Ledger) Audit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{Ledger: l.schema.Name, Problems: []string{}}

	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		seq, err := r.Sequence()
		if err != nil {
			return wrapBackend("read sequence", err)
		}
		report.Sequence = seq

		lists := make(map[string]map[string]bool)
		indexed := func(dim string, party Identity, key string) (bool, error) {
			lk := dim + "\x00" + string(party)
			set, ok := lists[lk]
			if !ok {
				entries, err := listIndex(r, dim, party)
				if err != nil {
					return false, err
				}
				set = make(map[string]bool, len(entries))
				for _, e := range entries {
					set[e.Key] = true
				}
				lists[lk] = set
			}
			return set[key], nil
		}

		return r.Scan(func(rec Record) error {
			report.Records++
			if rec.Seq != uint64(report.Records) {
				report.problem("record %s: seq %d, want %d", rec.Key, rec.Seq, report.Records)
			}
			if l.schema.KeyStrategy == SequenceKey && rec.Key != sequenceKey(rec.Seq) {
				report.problem("record %s: key does not match seq %d", rec.Key, rec.Seq)
			}
			if err := l.Verify(rec); err != nil {
				report.problem("%v", err)
			}
			for _, idx := range l.schema.Indexes {
				party, ok := rec.Parties[idx.Role]
				if !ok {
					report.problem("record %s: no %s party", rec.Key, idx.Role)
					continue
				}
				found, err := indexed(idx.Name, party, rec.Key)
				if err != nil {
					return err
				}
				if !found {
					report.problem("record %s: missing from %s index of %s", rec.Key, idx.Name, party)
				}
			}
			return nil
		})
	})
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit %s: %w", l.schema.Name, err)
	}

	if uint64(report.Records) != report.Sequence {
		report.problem("sequence counter is %d but %d records exist", report.Sequence, report.Records)
	}
	return report, nil
}

func (r *AuditReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}
