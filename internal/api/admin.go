package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/reminder"
	"github.com/kalambet/statusbot/internal/storage"
)

const (
	defaultSubmissionLimit = 50
	maxSubmissionLimit     = 500
)

func handleBroadcast(deps Deps) http.HandlerFunc {
	return handleReminder(deps.Reminders.Broadcast)
}

func handleNudge(deps Deps) http.HandlerFunc {
	return handleReminder(deps.Reminders.Nudge)
}

func handleReminder(fire func(ctx context.Context, label string) (reminder.Report, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		label := r.URL.Query().Get("cycle")
		if label == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "cycle is required")
			return
		}

		report, err := fire(r.Context(), label)
		if errors.Is(err, reminder.ErrUnknownCycle) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "firing %s: %v", label, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleLedger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Ledger.Snapshot()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read ledger: %v", err)
			return
		}
		if records == nil {
			records = []ledger.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleOverdue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overdue, err := deps.Reminders.Overdue()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to evaluate overdue employees: %v", err)
			return
		}
		if overdue == nil {
			overdue = []reminder.OverdueEmployee{}
		}
		writeJSON(w, http.StatusOK, overdue)
	}
}

func handleSubmissions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Submissions == nil {
			httpError(w, http.StatusNotFound, "not_found", "submission audit requires the sqlite ledger backend")
			return
		}

		limit := defaultSubmissionLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxSubmissionLimit)
		}

		subs, err := deps.Submissions.RecentSubmissions(r.URL.Query().Get("email"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read submissions: %v", err)
			return
		}
		if subs == nil {
			subs = []storage.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}
