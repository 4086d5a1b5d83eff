// Package connector talks to the chat platform on behalf of the bridge.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/errutil"
	"github.com/fadmin-project/fadmin/internal/util"
)

// maxContentLength is Discord's limit for one message.
const maxContentLength = 2000

// DiscordUser is the subset of a Discord user object the bridge reads.
type DiscordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type discordMember struct {
	Nick string `json:"nick"`
}

type discordMessage struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Author  DiscordUser    `json:"author"`
	Member  *discordMember `json:"member"`
}

// InboundMessage is a chat message posted in the bridged channel.
type InboundMessage struct {
	ID      string
	Author  string
	Content string
}

// DisplayName prefers the server nickname, then the global display name,
// then the username.
func (m discordMessage) DisplayName() string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// DiscordConnector posts to and reads from one channel over the Discord
// REST API using a bot token.
type DiscordConnector struct {
	cfg    config.DiscordConfig
	client *http.Client
	logger zerolog.Logger

	mu   sync.Mutex
	self *DiscordUser
}

// NewDiscordConnector creates a new Discord connector.
func NewDiscordConnector(cfg config.DiscordConfig) *DiscordConnector {
	if cfg.InboundInterval <= 0 {
		cfg.InboundInterval = 2 * time.Second
	}
	return &DiscordConnector{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: util.ComponentLogger("discord").With().Str("channel", cfg.ChannelID).Logger(),
	}
}

// Deliver posts text to the configured channel. Mentions are never
// resolved, whatever the text contains.
func (dc *DiscordConnector) Deliver(ctx context.Context, text string) error {
	text = util.TruncateRunes(text, maxContentLength, "...")

	payload := map[string]interface{}{
		"content": text,
		"allowed_mentions": map[string][]string{
			"parse": {},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return oops.In("discord").Code(errutil.CodeDelivery).Wrapf(err, "failed to marshal message")
	}

	path := "/channels/" + url.PathEscape(dc.cfg.ChannelID) + "/messages"
	resp, err := dc.do(ctx, http.MethodPost, path, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp, "message delivery rejected")
	}

	dc.logger.Debug().Int("length", len(text)).Msg("message delivered")
	return nil
}

// Self returns the bot's own user, fetched once.
func (dc *DiscordConnector) Self(ctx context.Context) (*DiscordUser, error) {
	dc.mu.Lock()
	cached := dc.self
	dc.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := dc.do(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, oops.In("discord").Code(errutil.CodeConfig).Errorf("invalid Discord bot token")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to fetch bot user")
	}

	var user DiscordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, oops.In("discord").Code(errutil.CodeDelivery).Wrapf(err, "failed to decode Discord user")
	}

	dc.mu.Lock()
	dc.self = &user
	dc.mu.Unlock()
	return &user, nil
}

// Listen polls the channel for new messages every InboundInterval and
// hands them to handler oldest first, skipping the bot's own posts.
// Messages sent before Listen starts are not replayed. It returns when
// ctx is cancelled, or early if the bot token is rejected.
func (dc *DiscordConnector) Listen(ctx context.Context, handler func(context.Context, InboundMessage)) error {
	self, err := dc.Self(ctx)
	if err != nil {
		return err
	}

	cursor, err := dc.latestID(ctx)
	if err != nil {
		errutil.LogWarn(dc.logger, "failed to read channel position, starting from now", err)
	}

	dc.logger.Info().Str("bot", self.Username).Msg("listening for chat messages")

	ticker := time.NewTicker(dc.cfg.InboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if cursor == "" {
			if cursor, err = dc.latestID(ctx); err != nil {
				errutil.LogWarn(dc.logger, "failed to read channel position", err)
			}
			continue
		}

		msgs, err := dc.messagesAfter(ctx, cursor)
		if err != nil {
			if ctx.Err() == nil {
				errutil.LogWarn(dc.logger, "failed to poll channel", err)
			}
			continue
		}

		// The API returns newest first.
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			cursor = m.ID
			if m.Author.ID == self.ID || m.Author.Bot || m.Content == "" {
				continue
			}
			handler(ctx, InboundMessage{ID: m.ID, Author: m.DisplayName(), Content: m.Content})
		}
	}
}

func (dc *DiscordConnector) latestID(ctx context.Context) (string, error) {
	msgs, err := dc.fetchMessages(ctx, url.Values{"limit": {"1"}})
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		// Empty channel: any snowflake is newer than 0.
		return "0", nil
	}
	return msgs[0].ID, nil
}

func (dc *DiscordConnector) messagesAfter(ctx context.Context, after string) ([]discordMessage, error) {
	return dc.fetchMessages(ctx, url.Values{"after": {after}, "limit": {"100"}})
}

func (dc *DiscordConnector) fetchMessages(ctx context.Context, query url.Values) ([]discordMessage, error) {
	path := "/channels/" + url.PathEscape(dc.cfg.ChannelID) + "/messages?" + query.Encode()
	resp, err := dc.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to read messages")
	}

	var msgs []discordMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, oops.In("discord").Code(errutil.CodeDelivery).Wrapf(err, "failed to decode messages")
	}
	return msgs, nil
}

func (dc *DiscordConnector) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	endpoint := strings.TrimSuffix(dc.cfg.APIBase, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, oops.In("discord").Code(errutil.CodeDelivery).Wrapf(err, "failed to create Discord API request")
	}
	req.Header.Set("Authorization", "Bot "+dc.cfg.Token)
	req.Header.Set("User-Agent", "fadmin (https://github.com/fadmin-project/fadmin, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := dc.client.Do(req)
	if err != nil {
		return nil, oops.In("discord").
			Code(errutil.CodeDelivery).
			With("method", method).
			Wrapf(err, "Discord API request failed")
	}
	return resp, nil
}

func statusError(resp *http.Response, msg string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return oops.In("discord").
		Code(errutil.CodeDelivery).
		With("status", resp.StatusCode).
		With("body", string(body)).
		Errorf("%s: Discord API returned status %d", msg, resp.StatusCode)
}
