// Package channel connects the LINE Messaging API to the bus: the
// inbound webhook on one side, the reply/push REST endpoints on the
// other.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/bus"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
)

const lineChannelName = "line"

const (
	lineAPIBase        = "https://api.line.me"
	lineSendTimeout    = 10 * time.Second
	lineMaxBodyBytes   = 1 << 20 // 1MB
	lineMaxSendBundled = 5       // platform cap per reply/push call
)

// LineClient delivers outbound messages. The default implementation
// calls the LINE REST API; tests inject a fake through the factory.
type LineClient interface {
	Reply(ctx context.Context, replyToken string, texts []string) error
	Push(ctx context.Context, userID string, texts []string) error
	Profile(ctx context.Context, userID string) (string, error)
	Close()
}

type LineClientFactory func(cfg config.LineConfig) LineClient

type defaultLineClient struct {
	apiBase     string
	accessToken string
	httpClient  *http.Client
}

var defaultLineClientFactory LineClientFactory = func(cfg config.LineConfig) LineClient {
	return &defaultLineClient{
		apiBase:     lineAPIBase,
		accessToken: cfg.ChannelAccessToken,
		httpClient:  &http.Client{Timeout: lineSendTimeout},
	}
}

func (c *defaultLineClient) Close() {}

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func lineTextMessages(texts []string) []lineTextMessage {
	if len(texts) > lineMaxSendBundled {
		texts = texts[:lineMaxSendBundled]
	}
	msgs := make([]lineTextMessage, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, lineTextMessage{Type: "text", Text: t})
	}
	return msgs
}

func (c *defaultLineClient) Reply(ctx context.Context, replyToken string, texts []string) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   lineTextMessages(texts),
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

func (c *defaultLineClient) Push(ctx context.Context, userID string, texts []string) error {
	payload := map[string]any{
		"to":       userID,
		"messages": lineTextMessages(texts),
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

type lineProfile struct {
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

// Profile fetches the user's display name from the profile endpoint.
func (c *defaultLineClient) Profile(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch line profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("line profile status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var profile lineProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode line profile: %w", err)
	}
	return profile.DisplayName, nil
}

func (c *defaultLineClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send line request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// LineChannel receives webhook deliveries and sends replies. The HTTP
// server itself is owned by the gateway; the channel only contributes
// the handler.
type LineChannel struct {
	cfg           config.LineConfig
	bus           *bus.MessageBus
	client        LineClient
	clientFactory LineClientFactory

	mu       sync.Mutex
	profiles map[string]string
}

func NewLineChannel(cfg config.LineConfig, b *bus.MessageBus) (*LineChannel, error) {
	return NewLineChannelWithFactory(cfg, b, defaultLineClientFactory)
}

func NewLineChannelWithFactory(cfg config.LineConfig, b *bus.MessageBus, factory LineClientFactory) (*LineChannel, error) {
	if strings.TrimSpace(cfg.ChannelSecret) == "" {
		return nil, fmt.Errorf("line channel secret is required")
	}
	if strings.TrimSpace(cfg.ChannelAccessToken) == "" {
		return nil, fmt.Errorf("line channel access token is required")
	}
	if factory == nil {
		factory = defaultLineClientFactory
	}

	ch := &LineChannel{
		cfg:           cfg,
		bus:           b,
		clientFactory: factory,
		profiles:      make(map[string]string),
	}
	ch.client = factory(cfg)
	return ch, nil
}

func (c *LineChannel) Name() string { return lineChannelName }

func (c *LineChannel) Stop() error {
	if c.client != nil {
		c.client.Close()
	}
	log.Printf("[line] stopped")
	return nil
}

// DisplayName resolves a user's profile name, fetching it at most
// once and caching the result for the process lifetime. A failed
// lookup returns an empty name and is not cached, so the next call
// retries.
func (c *LineChannel) DisplayName(userID string) string {
	c.mu.Lock()
	if name, ok := c.profiles[userID]; ok {
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), lineSendTimeout)
	defer cancel()

	name, err := c.client.Profile(ctx, userID)
	if err != nil {
		log.Printf("[line] profile lookup failed: %v", err)
		return ""
	}

	c.mu.Lock()
	c.profiles[userID] = name
	c.mu.Unlock()
	return name
}

// ProfileCount reports the number of cached profiles.
func (c *LineChannel) ProfileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.profiles)
}

// Send delivers one outbound message: the single-use reply endpoint
// when a reply token is present, the push endpoint otherwise.
func (c *LineChannel) Send(msg bus.OutboundMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), lineSendTimeout)
	defer cancel()

	if msg.ReplyToken != "" {
		return c.client.Reply(ctx, msg.ReplyToken, []string{msg.Text})
	}
	if msg.UserID == "" {
		return fmt.Errorf("line push requires a user id")
	}
	return c.client.Push(ctx, msg.UserID, []string{msg.Text})
}

type lineWebhookBody struct {
	Events []lineWebhookEvent `json:"events"`
}

type lineWebhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"` // milliseconds
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// Handler returns the webhook endpoint. The delivery is acknowledged
// as soon as the signature and shape check out; event processing
// continues in the background so the platform's delivery timeout is
// never at risk.
func (c *LineChannel) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, lineMaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}

		if !c.verifySignature(body, r.Header.Get("X-Line-Signature")) {
			log.Printf("[line] rejected delivery with bad signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload lineWebhookBody
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("[line] malformed webhook body: %v", err)
			http.Error(w, "malformed body", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		go c.processEvents(payload.Events)
	}
}

// verifySignature checks the X-Line-Signature header: base64 of an
// HMAC-SHA256 over the raw request body, keyed by the channel secret.
func (c *LineChannel) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.ChannelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *LineChannel) processEvents(events []lineWebhookEvent) {
	for _, ev := range events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		if ev.Source.UserID == "" {
			continue
		}
		c.bus.Inbound <- bus.InboundEvent{
			UserID:     ev.Source.UserID,
			Text:       ev.Message.Text,
			ReplyToken: ev.ReplyToken,
			Timestamp:  time.UnixMilli(ev.Timestamp),
		}
	}
}
