package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeSlack struct {
	mu        sync.Mutex
	posts     []postedMessage
	listCalls atomic.Int32
	opened    []string
}

type postedMessage struct {
	Channel string
	Text    string
}

func (f *fakeSlack) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.FormValue("user") {
		case "U1":
			writeJSON(w, map[string]interface{}{"ok": true, "user": map[string]interface{}{
				"id": "U1", "profile": map[string]interface{}{"email": "alice@co.com"},
			}})
		case "UBOT":
			writeJSON(w, map[string]interface{}{"ok": true, "user": map[string]interface{}{
				"id": "UBOT", "profile": map[string]interface{}{},
			}})
		default:
			writeJSON(w, map[string]interface{}{"ok": false, "error": "user_not_found"})
		}
	})
	mux.HandleFunc("/users.lookupByEmail", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.FormValue("email") == "bob@co.com" {
			writeJSON(w, map[string]interface{}{"ok": true, "user": map[string]interface{}{"id": "U2"}})
			return
		}
		writeJSON(w, map[string]interface{}{"ok": false, "error": "users_not_found"})
	})
	mux.HandleFunc("/conversations.open", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.opened = append(f.opened, r.FormValue("users"))
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{"ok": true, "channel": map[string]interface{}{"id": "D" + r.FormValue("users")}})
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.posts = append(f.posts, postedMessage{Channel: r.FormValue("channel"), Text: r.FormValue("text")})
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{"ok": true, "channel": r.FormValue("channel"), "ts": "1700000000.000100"})
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.listCalls.Add(1)
		if r.FormValue("cursor") == "" {
			writeJSON(w, map[string]interface{}{
				"ok":                true,
				"channels":          []map[string]interface{}{{"id": "C001", "name": "general"}},
				"response_metadata": map[string]interface{}{"next_cursor": "page2"},
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"ok":                true,
			"channels":          []map[string]interface{}{{"id": "C123", "name": "eng"}},
			"response_metadata": map[string]interface{}{"next_cursor": ""},
		})
	})
	mux.HandleFunc("/files/voice.m4a", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("download Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte("audio-bytes"))
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeSlack, *httptest.Server) {
	t.Helper()
	f := &fakeSlack{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClientWithAPIURL("xoxb-test", srv.URL), f, srv
}

func TestUserEmail(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	email, err := c.UserEmail(ctx, "U1")
	if err != nil {
		t.Fatalf("UserEmail: %v", err)
	}
	if email != "alice@co.com" {
		t.Errorf("email = %q, want alice@co.com", email)
	}

	if _, err := c.UserEmail(ctx, "UBOT"); !errors.Is(err, ErrNoEmail) {
		t.Errorf("expected ErrNoEmail, got %v", err)
	}
	if _, err := c.UserEmail(ctx, "U404"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

// TestResolveChannelIDPaginates verifies a channel on the second page is found
// and later lookups are served from cache.
func TestResolveChannelIDPaginates(t *testing.T) {
	c, f, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.ResolveChannelID(ctx, "eng")
	if err != nil {
		t.Fatalf("ResolveChannelID: %v", err)
	}
	if id != "C123" {
		t.Errorf("id = %q, want C123", id)
	}
	calls := f.listCalls.Load()
	if calls != 2 {
		t.Errorf("conversations.list calls = %d, want 2", calls)
	}

	if id, _ := c.ResolveChannelID(ctx, "#general"); id != "C001" {
		t.Errorf("general id = %q, want C001", id)
	}
	if f.listCalls.Load() != calls {
		t.Error("cached lookup must not rescan")
	}
}

func TestResolveChannelIDNotFound(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, err := c.ResolveChannelID(context.Background(), "marketing")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestPostMessage(t *testing.T) {
	c, f, _ := newTestClient(t)

	if err := c.PostMessage(context.Background(), "C123", "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if len(f.posts) != 1 || f.posts[0].Channel != "C123" || f.posts[0].Text != "hello" {
		t.Errorf("unexpected posts: %+v", f.posts)
	}
}

// TestSendDirectMessage verifies the lookup, open and post chain.
func TestSendDirectMessage(t *testing.T) {
	c, f, _ := newTestClient(t)

	if err := c.SendDirectMessage(context.Background(), "bob@co.com", "nudge"); err != nil {
		t.Fatalf("SendDirectMessage: %v", err)
	}
	if len(f.opened) != 1 || f.opened[0] != "U2" {
		t.Errorf("opened = %v, want [U2]", f.opened)
	}
	if len(f.posts) != 1 || f.posts[0].Channel != "DU2" || f.posts[0].Text != "nudge" {
		t.Errorf("unexpected posts: %+v", f.posts)
	}
}

func TestSendDirectMessageUnknownUser(t *testing.T) {
	c, f, _ := newTestClient(t)

	err := c.SendDirectMessage(context.Background(), "ghost@co.com", "nudge")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(f.posts) != 0 {
		t.Error("no message may be posted for an unknown user")
	}
}

func TestDownloadFile(t *testing.T) {
	c, _, srv := newTestClient(t)

	var buf bytes.Buffer
	if err := c.DownloadFile(context.Background(), srv.URL+"/files/voice.m4a", &buf); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if buf.String() != "audio-bytes" {
		t.Errorf("body = %q", buf.String())
	}
}

func TestDownloadFileFailure(t *testing.T) {
	c, _, srv := newTestClient(t)

	var buf bytes.Buffer
	err := c.DownloadFile(context.Background(), srv.URL+"/files/missing.m4a", &buf)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "downloading") {
		t.Errorf("error = %q, want it to mention downloading", err)
	}
}
