// Package api exposes the bot over HTTP: the Slack events webhook, the
// admin endpoints for reminders and the ledger, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/messaging"
	"github.com/kalambet/statusbot/internal/metrics"
	"github.com/kalambet/statusbot/internal/pipeline"
	"github.com/kalambet/statusbot/internal/reminder"
	"github.com/kalambet/statusbot/internal/storage"
)

// EventAdmitter runs the synchronous pipeline stages on a webhook body.
// Release undoes the dedup mark of an accepted event that was not queued.
type EventAdmitter interface {
	Admit(ctx context.Context, body []byte) pipeline.Admission
	Release(ctx context.Context, adm pipeline.Admission)
}

// EventQueue hands admitted events to the asynchronous stages.
type EventQueue interface {
	Submit(ctx context.Context, adm pipeline.Admission) error
}

// Reminders is the manual trigger surface of the reminder scheduler.
type Reminders interface {
	Broadcast(ctx context.Context, label string) (reminder.Report, error)
	Nudge(ctx context.Context, label string) (reminder.Report, error)
	Overdue() ([]reminder.OverdueEmployee, error)
}

// LedgerSnapshot lists every recorded update.
type LedgerSnapshot interface {
	Snapshot() ([]ledger.Record, error)
}

// SubmissionLog lists delivered submissions, newest first.
type SubmissionLog interface {
	RecentSubmissions(email string, limit int) ([]storage.Submission, error)
}

type Deps struct {
	Pipeline      EventAdmitter
	Queue         EventQueue
	Reminders     Reminders
	Ledger        LedgerSnapshot
	Submissions   SubmissionLog // nil without a persistent store
	SigningSecret string
	AdminToken    string // admin routes are not mounted when empty
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.With(messaging.VerifySignature(deps.SigningSecret)).
		Post("/slack/events", handleSlackEvents(deps))

	if deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Post("/reminders/broadcast", handleBroadcast(deps))
			r.Post("/reminders/nudge", handleNudge(deps))
			r.Get("/ledger", handleLedger(deps))
			r.Get("/overdue", handleOverdue(deps))
			r.Get("/submissions", handleSubmissions(deps))
		})
	}

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Slack bot running"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
