package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/kalambet/statusbot/internal/pipeline"
)

const maxEventBodySize = 1 << 20 // 1MB

// handleSlackEvents acknowledges every delivery with 200 so Slack does not
// retry; only the URL verification handshake gets a different body.
func handleSlackEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodySize))
		r.Body.Close()
		if err != nil {
			slog.Warn("reading slack event body", "outcome", pipeline.OutcomeMalformed, "error", err)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		adm := deps.Pipeline.Admit(r.Context(), body)
		switch adm.Outcome {
		case pipeline.OutcomeChallenge:
			writeJSON(w, http.StatusOK, map[string]string{"challenge": adm.Challenge})
			return
		case pipeline.OutcomeAccepted:
			if err := deps.Queue.Submit(r.Context(), adm); err != nil {
				slog.Error("event not queued", "outcome", pipeline.OutcomeNotQueued, "event_key", adm.Key, "error", err)
				deps.Pipeline.Release(context.WithoutCancel(r.Context()), adm)
			}
		}

		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
