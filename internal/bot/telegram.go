package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Replier is the outbound side of the chat transport. The scheduler
// sends daily notifications through it without knowing about polling.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// ErrChatBlocked is reported when the chat has blocked the bot; the
// caller should disable automatic sends for that chat.
var ErrChatBlocked = errors.New("chat blocked the bot")

// Client is a minimal Telegram Bot API client: long-poll getUpdates
// plus sendMessage. The bot token is scrubbed from every error it
// returns.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
	scrub   *strings.Replacer
}

func NewClient(token string, httpc *http.Client) *Client {
	return &Client{
		token:   token,
		baseURL: "https://api.telegram.org",
		httpc:   httpc,
		scrub:   strings.NewReplacer(token, "[REDACTED]"),
	}
}

// Update is an inbound Telegram update; only text messages matter here.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, c.scrubErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, c.scrubErr(err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("telegram %s: decoding response: %v", method, err)
	}
	if !env.OK {
		if env.ErrorCode == http.StatusForbidden {
			return nil, fmt.Errorf("telegram %s: %w: %s", method, ErrChatBlocked, env.Description)
		}
		return nil, fmt.Errorf("telegram %s: api error %d: %s", method, env.ErrorCode, env.Description)
	}
	return env.Result, nil
}

func (c *Client) scrubErr(err error) error {
	return errors.New(c.scrub.Replace(err.Error()))
}

// SendMessage sends Markdown-formatted text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	return err
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	raw, err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram getUpdates: decoding result: %v", err)
	}
	return updates, nil
}

// Poller runs the long-poll loop, feeding each text message to the
// handler and sending its reply back. Errors never stop the loop; it
// backs off and resumes until ctx is done. Each update is dispatched on
// its own worker so one chat's slow query never stalls the others.
type Poller struct {
	client  *Client
	handler func(ctx context.Context, chatID int64, text string) string

	pollTimeout time.Duration
	workers     int
}

func NewPoller(client *Client, handler func(ctx context.Context, chatID int64, text string) string) *Poller {
	return &Poller{
		client:      client,
		handler:     handler,
		pollTimeout: 30 * time.Second,
		workers:     8,
	}
}

func (p *Poller) Run(ctx context.Context) {
	log.Println("telegram: starting long-poll loop")
	var offset int64

	// Bounded worker pool for update handling. The loop only tracks
	// offsets and dispatches; handle+send runs off-loop so a slow
	// refresh for one chat cannot block updates for unrelated chats.
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			log.Println("telegram: poll loop stopped")
			return
		}

		pollCtx, cancel := context.WithTimeout(ctx, p.pollTimeout+10*time.Second)
		updates, err := p.client.GetUpdates(pollCtx, offset, p.pollTimeout)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("telegram: poll loop stopped")
				return
			}
			log.Printf("telegram: getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}

			chatID := u.Message.Chat.ID
			text := u.Message.Text

			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				reply := p.handler(ctx, chatID, text)
				if reply == "" {
					return
				}
				if err := p.client.SendMessage(ctx, chatID, reply); err != nil {
					log.Printf("telegram: send to chat %d failed: %v", chatID, err)
				}
			}()
		}
	}
}
