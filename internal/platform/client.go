package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	// ErrDMDisabled is returned when the target user refuses direct messages
	// from server members.
	ErrDMDisabled = errors.New("user has direct messages disabled")
	// ErrUnknownInteraction is returned when an interaction handle expired
	// before the bot responded.
	ErrUnknownInteraction = errors.New("unknown or expired interaction")
)

// HeaderProvider allows injecting per-request headers (auth token etc).
type HeaderProvider func() map[string]string

// Client talks to the chat-platform REST bridge.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText posts a plain text message to a channel.
func (c *Client) SendText(ctx context.Context, channelID, content string) error {
	req := sendMessageRequest{ChannelID: channelID, Content: content}
	return c.doJSON(ctx, fasthttp.MethodPost, "/messages", req, nil, false)
}

// SendComponents posts a message with interactive components to a channel.
func (c *Client) SendComponents(ctx context.Context, channelID, content string, comps []Component) error {
	req := sendMessageRequest{ChannelID: channelID, Content: content, Components: comps}
	return c.doJSON(ctx, fasthttp.MethodPost, "/messages", req, nil, false)
}

// SendFiles posts a message with file attachments to a channel.
func (c *Client) SendFiles(ctx context.Context, channelID, content string, files []File) error {
	req := sendMessageRequest{ChannelID: channelID, Content: content, Files: encodeFiles(files)}
	return c.doJSON(ctx, fasthttp.MethodPost, "/messages", req, nil, false)
}

// SendDM delivers a direct message with optional components to a user.
// Returns ErrDMDisabled when the user blocks member DMs.
func (c *Client) SendDM(ctx context.Context, userID, content string, comps []Component) error {
	req := sendDMRequest{UserID: userID, Content: content, Components: comps}
	return c.doJSON(ctx, fasthttp.MethodPost, "/dm", req, nil, false)
}

// RespondInteraction replies to an interaction. Returns ErrUnknownInteraction
// when the handle has expired.
func (c *Client) RespondInteraction(ctx context.Context, inter *InteractionEvent, content string, comps []Component, ephemeral bool) error {
	req := interactionResponseRequest{
		InteractionID: inter.ID, Token: inter.Token,
		Content: content, Components: comps, Ephemeral: ephemeral,
	}
	return c.doJSON(ctx, fasthttp.MethodPost, "/interactions/respond", req, nil, false)
}

// UpdateInteraction edits the message the interaction component was attached to.
func (c *Client) UpdateInteraction(ctx context.Context, inter *InteractionEvent, content string, comps []Component) error {
	req := interactionResponseRequest{
		InteractionID: inter.ID, Token: inter.Token,
		Content: content, Components: comps, Update: true,
	}
	return c.doJSON(ctx, fasthttp.MethodPost, "/interactions/respond", req, nil, false)
}

// HasRole reports whether the guild member carries the given role.
func (c *Client) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	var member memberResponse
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &member, true); err != nil {
		return false, err
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

// Download fetches an attachment payload from its absolute URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("download attachment: status=%d", resp.StatusCode())
	}
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

func encodeFiles(files []File) []wireFile {
	out := make([]wireFile, 0, len(files))
	for _, f := range files {
		out = append(out, wireFile{Name: f.Name, Data: base64.StdEncoding.EncodeToString(f.Data)})
	}
	return out
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts || !retry {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			if sentinel := sentinelForStatus(path, status); sentinel != nil {
				return sentinel
			}
			body := string(resp.Body())
			err := fmt.Errorf("platform api error: status=%d body=%s", status, truncate(body, 512))
			if attempt == attempts || !retry || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// sentinelForStatus maps well-known bridge failures to typed errors callers
// branch on: 403 on /dm means the user blocks member DMs, 404 on the
// interaction endpoint means the handle already expired.
func sentinelForStatus(path string, status int) error {
	switch {
	case status == fasthttp.StatusForbidden && strings.HasPrefix(path, "/dm"):
		return ErrDMDisabled
	case status == fasthttp.StatusNotFound && strings.HasPrefix(path, "/interactions"):
		return ErrUnknownInteraction
	default:
		return nil
	}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
