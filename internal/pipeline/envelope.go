package pipeline

import (
	"encoding/json"

	"github.com/kalambet/statusbot/internal/attachment"
)

const typeURLVerification = "url_verification"

// Envelope is the outer Events API payload.
type Envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventTime int64  `json:"event_time,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

// Event is the inner message event.
type Event struct {
	Type        string            `json:"type"`
	SubType     string            `json:"subtype,omitempty"`
	User        string            `json:"user,omitempty"`
	BotID       string            `json:"bot_id,omitempty"`
	Text        string            `json:"text,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	ClientMsgID string            `json:"client_msg_id,omitempty"`
	TS          string            `json:"ts,omitempty"`
	EventTS     string            `json:"event_ts,omitempty"`
	Files       []attachment.File `json:"files,omitempty"`
}

// ignoredSubtypes are system-generated message events, including the bot's
// own posts.
var ignoredSubtypes = map[string]bool{
	"bot_message":     true,
	"message_changed": true,
	"message_deleted": true,
}

// ParseEnvelope decodes body. Anything that is not a JSON object yields an
// error.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DeriveKey returns the dedup key for env: the client message id when the
// message has one, else the envelope event id, else channel plus event
// timestamp. It returns "" when none is available.
func DeriveKey(env Envelope) string {
	ev := env.Event
	switch {
	case ev != nil && ev.ClientMsgID != "":
		return "msg:" + ev.ClientMsgID
	case env.EventID != "":
		return "evt:" + env.EventID
	case ev != nil && eventTS(ev) != "":
		return "ts:" + ev.Channel + ":" + eventTS(ev)
	}
	return ""
}

func eventTS(ev *Event) string {
	if ev.EventTS != "" {
		return ev.EventTS
	}
	return ev.TS
}

// fromSystem reports whether ev was generated by a bot or by an edit/delete.
func fromSystem(ev *Event) bool {
	return ignoredSubtypes[ev.SubType] || ev.BotID != ""
}
