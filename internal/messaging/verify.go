package messaging

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
)

const maxWebhookBody = 1 << 20

// VerifySignature returns middleware rejecting requests whose
// X-Slack-Signature does not match signingSecret. An empty secret disables
// verification.
func VerifySignature(signingSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if signingSecret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, "reading body", http.StatusBadRequest)
				return
			}

			sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
			if err != nil {
				slog.Warn("rejecting unsigned slack request", "error", err)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			if _, err := sv.Write(body); err != nil {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			if err := sv.Ensure(); err != nil {
				slog.Warn("slack signature mismatch", "error", err)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
