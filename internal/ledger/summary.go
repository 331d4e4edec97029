package ledger

// Summary aggregates ledger state over a candidate URL list.
type Summary struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Pending         int     `json:"pending"`
	Remaining       int     `json:"remaining"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Summary counts completed, failed, and pending URLs among all. It does not
// mutate the ledger.
func (l *Ledger) Summary(all []string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	seen := make(map[string]struct{}, len(all))
	for _, u := range all {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		s.Total++
		e, ok := l.entries[u]
		switch {
		case !ok:
			s.Pending++
		case e.State == StateCompleted:
			s.Completed++
		case e.State == StateFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	s.Remaining = s.Failed + s.Pending
	if s.Total > 0 {
		s.ProgressPercent = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}
