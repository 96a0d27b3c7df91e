package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/statusbot/internal/dedup"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/pipeline"
	"github.com/kalambet/statusbot/internal/storage"
)

const testAdminToken = "admin-token"

func newTestHandler(t *testing.T) (http.Handler, *fakeQueue, *fakeReminders) {
	t.Helper()
	q := &fakeQueue{}
	rem := &fakeReminders{overdue: sampleOverdue()}
	p := pipeline.New(pipeline.Deps{Guard: dedup.NewMemoryGuard(time.Hour, 100)}, pipeline.Options{})
	h := NewHandler(Deps{
		Pipeline:   p,
		Queue:      q,
		Reminders:  rem,
		Ledger:     fakeLedger{records: []ledger.Record{{Email: "alice@example.com", LastUpdateAt: time.Unix(1_700_000_000, 0).UTC()}}},
		AdminToken: testAdminToken,
	})
	return h, q, rem
}

func post(h http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminHeader() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + testAdminToken}}
}

const messageEvent = `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","user":"U1","text":"shipped the thing","channel":"D1","ts":"1.0","client_msg_id":"m-1"}}`

func TestRootAndHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for path, want := range map[string]string{
		"/":       `"message":"Slack bot running"`,
		"/health": `{"status":"ok"}`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("GET %s body = %s, want %s", path, rec.Body.String(), want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	post(h, "/slack/events", `not json`, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "statusbot_pipeline_events_total") {
		t.Error("metrics output missing pipeline events counter")
	}
}

func TestSlackChallengeEcho(t *testing.T) {
	h, q, _ := newTestHandler(t)

	rec := post(h, "/slack/events", `{"type":"url_verification","challenge":"abc123"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["challenge"] != "abc123" {
		t.Errorf("challenge = %q, want abc123", body["challenge"])
	}
	if q.len() != 0 {
		t.Error("handshake must not be queued")
	}
}

func TestSlackEventQueuedOnceAcrossRetries(t *testing.T) {
	h, q, _ := newTestHandler(t)

	for i := 0; i < 3; i++ {
		rec := post(h, "/slack/events", messageEvent, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
			t.Fatalf("delivery %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	if q.len() != 1 {
		t.Fatalf("queued %d events, want 1", q.len())
	}
	if q.adms[0].Key != "msg:m-1" {
		t.Errorf("key = %q, want msg:m-1", q.adms[0].Key)
	}
}

func TestSlackEventAlwaysAcknowledged(t *testing.T) {
	h, q, _ := newTestHandler(t)
	q.err = errBoom

	bodies := []string{
		`not json`,
		`{"type":"event_callback"}`,
		`{"type":"event_callback","event_id":"Ev9","event":{"type":"message","subtype":"bot_message","bot_id":"B1","text":"x"}}`,
		messageEvent,
	}
	for _, b := range bodies {
		rec := post(h, "/slack/events", b, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
			t.Errorf("body %q: got %d %s, want 200 ok", b, rec.Code, rec.Body.String())
		}
	}
}

func TestSlackEventRequeuedAfterQueueFailure(t *testing.T) {
	h, q, _ := newTestHandler(t)
	q.err = pipeline.ErrQueueFull

	if rec := post(h, "/slack/events", messageEvent, nil); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	if q.len() != 0 {
		t.Fatal("rejected event must not be queued")
	}

	q.mu.Lock()
	q.err = nil
	q.mu.Unlock()
	post(h, "/slack/events", messageEvent, nil)
	post(h, "/slack/events", messageEvent, nil)
	if q.len() != 1 {
		t.Fatalf("queued %d events after retries, want 1", q.len())
	}
}

func TestSlackEventSignature(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(Deps{
		Pipeline:      pipeline.New(pipeline.Deps{Guard: dedup.NewMemoryGuard(time.Hour, 100)}, pipeline.Options{}),
		Queue:         q,
		Reminders:     &fakeReminders{},
		Ledger:        fakeLedger{},
		SigningSecret: "s3cret",
	})

	if rec := post(h, "/slack/events", messageEvent, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", rec.Code)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("v0:" + ts + ":" + messageEvent))
	header := http.Header{
		"X-Slack-Request-Timestamp": []string{ts},
		"X-Slack-Signature":         []string{"v0=" + hex.EncodeToString(mac.Sum(nil))},
	}
	if rec := post(h, "/slack/events", messageEvent, header); rec.Code != http.StatusOK {
		t.Fatalf("signed status = %d, want 200", rec.Code)
	}
	if q.len() != 1 {
		t.Errorf("queued %d events, want 1", q.len())
	}
}

func TestAdminRequiresToken(t *testing.T) {
	h, _, rem := newTestHandler(t)

	rec := post(h, "/admin/reminders/broadcast?cycle=mon-update", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(rem.calls) != 0 {
		t.Error("reminder fired without auth")
	}
}

func TestAdminRoutesAbsentWithoutToken(t *testing.T) {
	h := NewHandler(Deps{Reminders: &fakeReminders{}, Ledger: fakeLedger{}})
	rec := post(h, "/admin/reminders/broadcast?cycle=mon-update", "", http.Header{"Authorization": []string{"Bearer "}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminBroadcastAndNudge(t *testing.T) {
	h, _, rem := newTestHandler(t)

	rec := post(h, "/admin/reminders/broadcast?cycle=mon-update", "", adminHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		Cycle  string `json:"cycle"`
		Action string `json:"action"`
		Sent   int    `json:"sent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Cycle != "mon-update" || report.Action != "broadcast" || report.Sent != 2 {
		t.Errorf("report = %+v", report)
	}

	rec = post(h, "/admin/reminders/nudge?cycle=tue-followup", "", adminHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("nudge status = %d", rec.Code)
	}
	if len(rem.calls) != 2 || rem.calls[1] != "nudge:tue-followup" {
		t.Errorf("calls = %v", rem.calls)
	}
}

func TestAdminReminderErrors(t *testing.T) {
	h, _, rem := newTestHandler(t)

	if rec := post(h, "/admin/reminders/nudge", "", adminHeader()); rec.Code != http.StatusBadRequest {
		t.Errorf("missing cycle status = %d, want 400", rec.Code)
	}
	rec := post(h, "/admin/reminders/nudge?cycle=sun-nothing", "", adminHeader())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown cycle status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"type":"not_found"`) {
		t.Errorf("error body = %s", rec.Body.String())
	}

	rem.err = errBoom
	if rec := post(h, "/admin/reminders/broadcast?cycle=mon-update", "", adminHeader()); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing reminder status = %d, want 500", rec.Code)
	}
}

func TestAdminLedgerAndOverdue(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/ledger", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var records []ledger.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decoding ledger: %v", err)
	}
	if len(records) != 1 || records[0].Email != "alice@example.com" {
		t.Errorf("ledger = %+v", records)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/overdue", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var overdue []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &overdue); err != nil {
		t.Fatalf("decoding overdue: %v", err)
	}
	if len(overdue) != 2 {
		t.Fatalf("overdue = %v", overdue)
	}
	if _, ok := overdue[1]["last_update_at"]; ok {
		t.Error("never-submitted employee should have no last_update_at")
	}
}

func TestAdminLedgerEmptyIsArray(t *testing.T) {
	h := NewHandler(Deps{Reminders: &fakeReminders{}, Ledger: fakeLedger{}, AdminToken: testAdminToken})
	req := httptest.NewRequest(http.MethodGet, "/admin/ledger", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestAdminSubmissions(t *testing.T) {
	subs := &fakeSubmissions{subs: []storage.Submission{{
		ID: "s-1", Email: "alice@example.com", ChannelID: "C123", Source: "pdf", EventKey: "msg:m-1",
		CreatedAt: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
	}}}
	h := NewHandler(Deps{Reminders: &fakeReminders{}, Ledger: fakeLedger{}, Submissions: subs, AdminToken: testAdminToken})

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/admin/submissions?email=alice@example.com&limit=5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got []storage.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding submissions: %v", err)
	}
	if len(got) != 1 || got[0].Source != "pdf" || got[0].ChannelID != "C123" {
		t.Errorf("submissions = %+v", got)
	}
	if subs.gotEmail != "alice@example.com" || subs.gotLimit != maxSubmissionLimit {
		t.Errorf("query = %q/%d, want alice@example.com/%d", subs.gotEmail, subs.gotLimit, maxSubmissionLimit)
	}

	get("/admin/submissions")
	if subs.gotEmail != "" || subs.gotLimit != defaultSubmissionLimit {
		t.Errorf("default query = %q/%d", subs.gotEmail, subs.gotLimit)
	}

	if rec := get("/admin/submissions?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	subs.subs, subs.err = nil, errBoom
	if rec := get("/admin/submissions"); rec.Code != http.StatusInternalServerError {
		t.Errorf("store error status = %d, want 500", rec.Code)
	}
}

func TestAdminSubmissionsWithoutStore(t *testing.T) {
	h := NewHandler(Deps{Reminders: &fakeReminders{}, Ledger: fakeLedger{}, AdminToken: testAdminToken})
	req := httptest.NewRequest(http.MethodGet, "/admin/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
