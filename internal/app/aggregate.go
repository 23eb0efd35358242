package app

import "checkin_messenger/internal/domain"

// summarizeDispatch folds per-item records into counts. Record order is kept
// as given but nothing downstream depends on it.
func summarizeDispatch(runID, date string, recs []domain.DispatchRecord) domain.DispatchSummary {
	out := domain.DispatchSummary{RunID: runID, Date: date, Results: recs}
	if out.Results == nil {
		out.Results = []domain.DispatchRecord{}
	}
	for _, r := range recs {
		// room-level records carry no reservation and are not targets
		if r.ReservationID != "" {
			out.Found++
		}
		switch r.Status {
		case domain.StatusSent:
			out.Sent++
		case domain.StatusFailed:
			out.Failed++
		case domain.StatusSkipped:
			out.Skipped++
		}
	}
	return out
}

// summarizeBulk keeps results keyed by input position.
func summarizeBulk(jobID string, results []domain.BulkResult) domain.BulkSummary {
	out := domain.BulkSummary{JobID: jobID, Results: results}
	for _, r := range results {
		switch r.Status {
		case domain.BulkSuccess:
			out.Sent++
		case domain.BulkFailure:
			out.Failed++
		}
	}
	return out
}
