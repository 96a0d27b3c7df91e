// Package pipeline turns inbound Slack events into posted status updates.
//
// Admit runs the cheap synchronous stages inside the webhook request:
// handshake, shape filter, dedup and origin filter. Process runs the rest
// (content resolution, identity, directory lookup, reformatting, ledger
// write, delivery and cleanup) and is normally driven by a Dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/statusbot/internal/attachment"
	"github.com/kalambet/statusbot/internal/dedup"
	"github.com/kalambet/statusbot/internal/directory"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/metrics"
	"github.com/kalambet/statusbot/internal/storage"
)

// Outcome is the terminal state of one event.
type Outcome string

const (
	OutcomeChallenge       Outcome = "challenge"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeIgnoredOrigin   Outcome = "ignored_origin"
	OutcomeAccepted        Outcome = "accepted"
	OutcomeNotQueued       Outcome = "not_queued"
	OutcomeNoContent       Outcome = "no_content"
	OutcomeNoIdentity      Outcome = "no_identity"
	OutcomeUnknownEmployee Outcome = "unknown_employee"
	OutcomeNoChannel       Outcome = "no_channel"
	OutcomeDeliveryFailed  Outcome = "delivery_failed"
	OutcomePosted          Outcome = "posted"
)

// Messenger is the Slack capability the pipeline needs.
type Messenger interface {
	UserEmail(ctx context.Context, userID string) (string, error)
	ResolveChannelID(ctx context.Context, name string) (string, error)
	PostMessage(ctx context.Context, channelID, text string) error
	DownloadFile(ctx context.Context, url string, w io.Writer) error
}

// Transcriber converts an audio stream to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Reformatter rewrites text into the executive update layout.
type Reformatter interface {
	Reformat(ctx context.Context, text string) (string, error)
}

// Directory resolves employees by email.
type Directory interface {
	LookupEmployeeByEmail(email string) (directory.Employee, error)
}

// AuditLog records delivered submissions.
type AuditLog interface {
	SaveSubmission(sub storage.Submission) error
}

// Deps are the collaborators of a Pipeline. Transcriber and Audit may be nil.
type Deps struct {
	Guard       dedup.Guard
	Ledger      ledger.Writer
	Directory   Directory
	Slack       Messenger
	Transcriber Transcriber
	Reformatter Reformatter
	Audit       AuditLog
}

// Options bound the external calls.
type Options struct {
	ExternalTimeout      time.Duration
	TranscriptionTimeout time.Duration
	TempDir              string
}

// Admission is the result of the synchronous stages.
type Admission struct {
	Outcome   Outcome
	Challenge string
	Key       string
	Event     *Event
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Pipeline. Zero timeouts default to 30s for Slack, directory
// and model calls and 2m for transcription.
func New(deps Deps, opts Options) *Pipeline {
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = 30 * time.Second
	}
	if opts.TranscriptionTimeout <= 0 {
		opts.TranscriptionTimeout = 2 * time.Minute
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Admit runs handshake, shape filter, dedup and origin filter on a raw
// webhook body.
func (p *Pipeline) Admit(ctx context.Context, body []byte) Admission {
	adm := p.admit(ctx, body)
	if adm.Outcome != OutcomeAccepted {
		metrics.EventsTotal.WithLabelValues(string(adm.Outcome)).Inc()
	}
	return adm
}

func (p *Pipeline) admit(ctx context.Context, body []byte) Admission {
	env, err := ParseEnvelope(body)
	if err != nil {
		p.logger.Info("ignoring malformed payload", "outcome", OutcomeMalformed, "error", err)
		return Admission{Outcome: OutcomeMalformed}
	}

	if env.Type == typeURLVerification {
		return Admission{Outcome: OutcomeChallenge, Challenge: env.Challenge}
	}

	if env.Event == nil {
		p.logger.Debug("payload without event", "outcome", OutcomeMalformed, "type", env.Type)
		return Admission{Outcome: OutcomeMalformed}
	}

	key := DeriveKey(env)
	ok, err := p.deps.Guard.ShouldProcess(ctx, key)
	if err != nil {
		// Losing an update is worse than posting it twice.
		p.logger.Warn("dedup guard unavailable, processing event", "event_key", key, "error", err)
		ok = true
	}
	if !ok {
		p.logger.Info("duplicate event", "outcome", OutcomeDuplicate, "event_key", key)
		return Admission{Outcome: OutcomeDuplicate, Key: key}
	}

	if fromSystem(env.Event) {
		p.logger.Debug("ignoring system message", "outcome", OutcomeIgnoredOrigin, "event_key", key,
			"subtype", env.Event.SubType, "bot_id", env.Event.BotID)
		return Admission{Outcome: OutcomeIgnoredOrigin, Key: key}
	}

	return Admission{Outcome: OutcomeAccepted, Key: key, Event: env.Event}
}

// Release forgets an accepted event's key after it failed to reach the
// asynchronous stages, so Slack's redelivery is admitted again.
func (p *Pipeline) Release(ctx context.Context, adm Admission) {
	metrics.EventsTotal.WithLabelValues(string(OutcomeNotQueued)).Inc()
	if adm.Key == "" {
		return
	}
	if err := p.deps.Guard.Forget(ctx, adm.Key); err != nil {
		p.logger.Error("releasing event key failed, redelivery will be dropped", "event_key", adm.Key, "error", err)
	}
}

// Handle runs every stage for body synchronously and returns the final
// outcome.
func (p *Pipeline) Handle(ctx context.Context, body []byte) Outcome {
	adm := p.Admit(ctx, body)
	if adm.Outcome != OutcomeAccepted {
		return adm.Outcome
	}
	return p.Process(ctx, adm)
}

// Process runs the asynchronous stages for an admitted event.
func (p *Pipeline) Process(ctx context.Context, adm Admission) Outcome {
	start := time.Now()
	log := p.logger.With("run_id", uuid.NewString(), "event_key", adm.Key, "user", adm.Event.User)

	content := p.resolveContent(ctx, log, adm.Event)
	defer content.cleanup(log)

	outcome := p.deliver(ctx, log, adm, content)

	metrics.EventsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ProcessingSeconds.WithLabelValues(content.source).Observe(time.Since(start).Seconds())
	return outcome
}

func (p *Pipeline) deliver(ctx context.Context, log *slog.Logger, adm Admission, content resolvedContent) Outcome {
	ev := adm.Event
	if content.text == "" {
		log.Info("event carries no usable content", "outcome", OutcomeNoContent)
		return OutcomeNoContent
	}

	email, err := p.userEmail(ctx, ev.User)
	if err != nil {
		log.Info("cannot resolve sender email", "outcome", OutcomeNoIdentity, "error", err)
		return OutcomeNoIdentity
	}
	log = log.With("email", email)

	emp, err := p.deps.Directory.LookupEmployeeByEmail(email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			log.Warn("no employee found for email", "outcome", OutcomeUnknownEmployee)
		} else {
			log.Error("directory lookup failed", "outcome", OutcomeUnknownEmployee, "error", err)
		}
		return OutcomeUnknownEmployee
	}

	formatted := p.reformat(ctx, log, content.text)

	if err := p.deps.Ledger.RecordUpdate(emp.Email, p.now()); err != nil {
		log.Error("recording update failed", "error", err)
	}

	channelID, err := p.resolveChannel(ctx, emp.Domain)
	if err != nil {
		log.Warn("no channel found for domain", "outcome", OutcomeNoChannel, "domain", emp.Domain, "error", err)
		return OutcomeNoChannel
	}

	postCtx, cancel := context.WithTimeout(ctx, p.opts.ExternalTimeout)
	defer cancel()
	if err := p.deps.Slack.PostMessage(postCtx, channelID, FormatPost(emp, formatted)); err != nil {
		log.Error("posting update failed", "outcome", OutcomeDeliveryFailed, "channel", channelID, "error", err)
		return OutcomeDeliveryFailed
	}

	if p.deps.Audit != nil {
		sub := storage.Submission{
			ID:        uuid.NewString(),
			Email:     emp.Email,
			ChannelID: channelID,
			Source:    content.source,
			EventKey:  adm.Key,
			CreatedAt: p.now(),
		}
		if err := p.deps.Audit.SaveSubmission(sub); err != nil {
			log.Warn("saving submission audit failed", "error", err)
		}
	}

	log.Info("status update posted", "outcome", OutcomePosted, "channel", channelID, "source", content.source)
	return OutcomePosted
}

// FormatPost renders the channel message for an employee's update.
func FormatPost(emp directory.Employee, text string) string {
	return fmt.Sprintf("*Message from %s (%s):*\n```%s```", emp.Name, emp.Email, text)
}

func (p *Pipeline) userEmail(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ExternalTimeout)
	defer cancel()
	return p.deps.Slack.UserEmail(ctx, userID)
}

func (p *Pipeline) resolveChannel(ctx context.Context, domain string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ExternalTimeout)
	defer cancel()
	return p.deps.Slack.ResolveChannelID(ctx, domain)
}

func (p *Pipeline) reformat(ctx context.Context, log *slog.Logger, text string) string {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ExternalTimeout)
	defer cancel()

	out, err := p.deps.Reformatter.Reformat(ctx, text)
	if err != nil {
		log.Warn("reformatting failed, posting text as received", "error", err)
		metrics.FallbacksTotal.WithLabelValues("reformat").Inc()
		return text
	}
	return out
}

var errEmptyTranscript = errors.New("transcript is empty")

type resolvedContent struct {
	text   string
	source string
	files  []string
}

func (c resolvedContent) cleanup(log *slog.Logger) {
	for _, path := range c.files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("removing downloaded file failed", "path", path, "error", err)
		}
	}
}

// resolveContent downloads attachments and builds the update text. A voice
// note transcript replaces the message text; PDF text is appended.
func (p *Pipeline) resolveContent(ctx context.Context, log *slog.Logger, ev *Event) resolvedContent {
	rc := resolvedContent{text: strings.TrimSpace(ev.Text), source: "text"}

	var pdfTexts []string
	transcribed := false
	for _, f := range ev.Files {
		kind := attachment.Classify(f)
		if kind == attachment.KindOther || f.URLPrivateDownload == "" {
			continue
		}
		if kind == attachment.KindAudio && (transcribed || p.deps.Transcriber == nil) {
			continue
		}

		path, err := p.download(ctx, f)
		if path != "" {
			rc.files = append(rc.files, path)
		}
		if err != nil {
			log.Warn("downloading attachment failed", "file_id", f.ID, "kind", kind.String(), "error", err)
			if kind == attachment.KindAudio {
				metrics.FallbacksTotal.WithLabelValues("transcription").Inc()
			}
			continue
		}

		switch kind {
		case attachment.KindAudio:
			text, err := p.transcribe(ctx, path)
			if err == nil && strings.TrimSpace(text) == "" {
				err = errEmptyTranscript
			}
			if err != nil {
				log.Warn("transcription failed, keeping message text", "file_id", f.ID, "error", err)
				metrics.FallbacksTotal.WithLabelValues("transcription").Inc()
				continue
			}
			rc.text = strings.TrimSpace(text)
			rc.source = "audio"
			transcribed = true
		case attachment.KindPDF:
			text, err := attachment.ExtractPDFText(path)
			if err != nil {
				log.Warn("pdf extraction failed", "file_id", f.ID, "error", err)
				continue
			}
			if text != "" {
				pdfTexts = append(pdfTexts, text)
			}
		}
	}

	if len(pdfTexts) > 0 {
		parts := append([]string{rc.text}, pdfTexts...)
		rc.text = strings.TrimSpace(strings.Join(parts, "\n\n"))
		if rc.source == "text" {
			rc.source = "pdf"
		}
	}
	return rc
}

func (p *Pipeline) download(ctx context.Context, f attachment.File) (string, error) {
	if err := os.MkdirAll(p.opts.TempDir, 0o700); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	path := filepath.Join(p.opts.TempDir, uuid.NewString()+attachment.Extension(f))

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ExternalTimeout)
	defer cancel()
	dlErr := p.deps.Slack.DownloadFile(ctx, f.URLPrivateDownload, out)
	closeErr := out.Close()
	if dlErr != nil {
		return path, dlErr
	}
	return path, closeErr
}

func (p *Pipeline) transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, p.opts.TranscriptionTimeout)
	defer cancel()
	return p.deps.Transcriber.Transcribe(ctx, filepath.Base(path), f)
}
