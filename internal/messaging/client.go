// Package messaging wraps the Slack Web API calls the bot depends on:
// resolving a user to an email, finding a channel by name, posting,
// direct messages and authenticated file download.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUserNotFound    = errors.New("slack user not found")
	ErrNoEmail         = errors.New("slack user has no email")
	ErrChannelNotFound = errors.New("channel not found")
)

const (
	defaultTimeout  = 30 * time.Second
	channelPageSize = 200
	channelCacheTTL = 15 * time.Minute
)

type cachedChannel struct {
	id      string
	fetched time.Time
}

// Client is safe for concurrent use.
type Client struct {
	api    *slack.Client
	logger *slog.Logger

	scans    singleflight.Group
	mu       sync.RWMutex
	channels map[string]cachedChannel
}

// NewClient creates a client against the public Slack API.
func NewClient(token string) *Client {
	return newClient(token)
}

// NewClientWithAPIURL creates a client against a custom API root. Used by
// tests and Slack-compatible gateways.
func NewClientWithAPIURL(token, apiURL string) *Client {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return newClient(token, slack.OptionAPIURL(apiURL))
}

func newClient(token string, opts ...slack.Option) *Client {
	opts = append(opts, slack.OptionHTTPClient(&http.Client{Timeout: defaultTimeout}))
	return &Client{
		api:      slack.New(token, opts...),
		logger:   slog.Default(),
		channels: make(map[string]cachedChannel),
	}
}

// UserEmail resolves a Slack user id to the email on their profile.
func (c *Client) UserEmail(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUserNotFound
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		if isSlackError(err, "user_not_found") {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("users.info %s: %w", userID, err)
	}
	if u.Profile.Email == "" {
		return "", ErrNoEmail
	}
	return u.Profile.Email, nil
}

// ResolveChannelID finds the id of the channel called name, scanning every
// page of conversations.list. Concurrent lookups share one scan.
func (c *Client) ResolveChannelID(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	if name == "" {
		return "", ErrChannelNotFound
	}
	if id, ok := c.cachedChannel(name); ok {
		return id, nil
	}

	_, err, _ := c.scans.Do("scan", func() (interface{}, error) {
		return nil, c.scanChannels(ctx)
	})
	if err != nil {
		return "", err
	}
	if id, ok := c.cachedChannel(name); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}

func (c *Client) cachedChannel(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[name]
	if !ok || time.Since(ch.fetched) > channelCacheTTL {
		return "", false
	}
	return ch.id, true
}

func (c *Client) scanChannels(ctx context.Context) error {
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		ExcludeArchived: true,
		Limit:           channelPageSize,
	}

	found := make(map[string]string)
	pages := 0
	for {
		channels, next, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return fmt.Errorf("conversations.list page %d: %w", pages+1, err)
		}
		pages++
		for _, ch := range channels {
			found[ch.Name] = ch.ID
		}
		if next == "" {
			break
		}
		params.Cursor = next
	}

	now := time.Now()
	c.mu.Lock()
	for name, id := range found {
		c.channels[name] = cachedChannel{id: id, fetched: now}
	}
	c.mu.Unlock()

	c.logger.Debug("channel list refreshed", "channels", len(found), "pages", pages)
	return nil
}

// PostMessage posts text to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	if _, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("chat.postMessage %s: %w", channelID, err)
	}
	return nil
}

// SendDirectMessage looks up the user by email, opens a DM with them and
// posts text there.
func (c *Client) SendDirectMessage(ctx context.Context, email, text string) error {
	u, err := c.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		if isSlackError(err, "users_not_found") {
			return fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return fmt.Errorf("users.lookupByEmail %s: %w", email, err)
	}

	ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{u.ID},
	})
	if err != nil {
		return fmt.Errorf("conversations.open %s: %w", u.ID, err)
	}

	return c.PostMessage(ctx, ch.ID, text)
}

// DownloadFile streams a private file URL into w using the bot token.
func (c *Client) DownloadFile(ctx context.Context, url string, w io.Writer) error {
	if err := c.api.GetFileContext(ctx, url, w); err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	return nil
}

func isSlackError(err error, code string) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err == code
	}
	return err.Error() == code
}
