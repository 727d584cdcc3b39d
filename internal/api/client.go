package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/faustyu/paprika/internal/config"
)

const defaultTimeout = 30 * time.Second

// Client talks to the chat backend over HTTP/JSON. It is constructed once
// from the session config and injected wherever the remote service is
// needed; there is no process-global instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a backend client for the given session.
func NewClient(sess *config.Session, opts ...Option) *Client {
	c := &Client{
		baseURL: config.NormalizeURL(sess.ServerURL),
		token:   sess.Token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WSURL returns the realtime feed endpoint: same backend address with the
// scheme swapped to ws and the session token as a query parameter.
func (c *Client) WSURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + c.token
}

// ChatMessages fetches the full remote message list for a chat.
func (c *Client) ChatMessages(ctx context.Context, chatID int64) ([]MessageDTO, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil)
	if err != nil {
		return nil, err
	}
	var msgs []MessageDTO
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// SendMessage submits a message and returns the server-confirmed record.
func (c *Client) SendMessage(ctx context.Context, chatID int64, content, msgType string) (*MessageDTO, error) {
	data, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/messages", chatID), SendMessageRequest{
		Content: content,
		Type:    msgType,
	})
	if err != nil {
		return nil, err
	}
	var msg MessageDTO
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode sent message: %w", err)
	}
	return &msg, nil
}

// UploadMedia uploads raw bytes as a multipart form and returns the served URL.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	var up uploadResponse
	if err := json.Unmarshal(body, &up); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if up.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return up.URL, nil
}

// MarkChatRead tells the backend the chat has been viewed. Best-effort for
// callers; the error is returned only for logging.
func (c *Client) MarkChatRead(ctx context.Context, chatID int64) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/read", chatID), nil)
	return err
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*UserDTO, error) {
	data, err := c.do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	var u UserDTO
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &u, nil
}

// Chat fetches a single chat summary.
func (c *Client) Chat(ctx context.Context, chatID int64) (*ChatDTO, error) {
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%d", chatID), nil)
	if err != nil {
		return nil, err
	}
	var ch ChatDTO
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &ch, nil
}

// Chats fetches the chat list.
func (c *Client) Chats(ctx context.Context) ([]ChatDTO, error) {
	data, err := c.do(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}
	var chats []ChatDTO
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return chats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return readBody(resp)
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
