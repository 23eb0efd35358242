// Package whatsapp sends template messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"checkin_messenger/internal/adapters/httpx"
	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

var (
	ErrUnauthorized = errors.New("whatsapp: unauthorized")
	ErrRateLimited  = errors.New("whatsapp: rate limited")
)

// APIError is a non-2xx reply from the Cloud API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whatsapp: status %d", e.Status)
	}
	return fmt.Sprintf("whatsapp: %s (status %d, code %d)", e.Message, e.Status, e.Code)
}

type Client struct {
	base    string
	phoneID string
	token   string
	hc      *http.Client
	rl      *rate.Limiter
}

func New(base, token, phoneID string, rps int) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("whatsapp API key is required")
	}
	if phoneID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	if base == "" {
		base = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		phoneID: phoneID,
		token:   token,
		hc:      &http.Client{Timeout: 20 * time.Second},
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// Send posts one template message. Only 429 is retried: any other failure may
// already have been delivered, and a retry would duplicate it.
func (c *Client) Send(ctx context.Context, m domain.OutboundMessage) (domain.SendReceipt, error) {
	body, err := json.Marshal(buildPayload(m))
	if err != nil {
		return domain.SendReceipt{}, err
	}
	url := fmt.Sprintf("%s/%s/messages", c.base, c.phoneID)

	var lastErr error
	for i := 0; i < 4; i++ {
		if err := c.rl.Wait(ctx); err != nil {
			return domain.SendReceipt{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return domain.SendReceipt{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "checkin-messenger/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("whatsapp", "messages", 0, time.Since(start))
			if ctx.Err() != nil {
				return domain.SendReceipt{}, ctx.Err()
			}
			return domain.SendReceipt{}, fmt.Errorf("whatsapp: %w", err)
		}
		observability.ObserveExternal("whatsapp", "messages", resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var out sendResponse
			err := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if err != nil {
				return domain.SendReceipt{}, fmt.Errorf("whatsapp: decode response: %w", err)
			}
			var id string
			if len(out.Messages) > 0 {
				id = out.Messages[0].ID
			}
			return domain.SendReceipt{ProviderMessageID: id}, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := httpx.RetryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = httpx.Backoff(i)
			}
			lastErr = ErrRateLimited
			if i < 3 && httpx.SleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return domain.SendReceipt{}, ctx.Err()
			}
			return domain.SendReceipt{}, lastErr

		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			return domain.SendReceipt{}, ErrUnauthorized

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			return domain.SendReceipt{}, parseError(resp.StatusCode, b)
		}
	}
	return domain.SendReceipt{}, lastErr
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func parseError(status int, body []byte) error {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	e := &APIError{Status: status}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Message, e.Code = env.Error.Message, env.Error.Code
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

// CleanPhone strips spaces, dashes and parentheses and makes sure the number
// carries a leading +.
func CleanPhone(p string) string {
	p = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(p))
	if p != "" && !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

// ---- payload ----

type payload struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components"`
}

type language struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Image    *media    `json:"image,omitempty"`
	Video    *media    `json:"video,omitempty"`
	Document *media    `json:"document,omitempty"`
	Location *location `json:"location,omitempty"`
}

type media struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
}

type location struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
}

func buildPayload(m domain.OutboundMessage) payload {
	var comps []component
	if m.Header != nil {
		comps = append(comps, component{Type: "header", Parameters: []parameter{headerParam(m.Header)}})
	}
	body := component{Type: "body", Parameters: []parameter{}}
	for _, v := range m.BodyParams {
		body.Parameters = append(body.Parameters, parameter{Type: "text", Text: v})
	}
	comps = append(comps, body)

	return payload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               CleanPhone(m.To),
		Type:             "template",
		Template: template{
			Name:       m.Template,
			Language:   language{Code: m.Language},
			Components: comps,
		},
	}
}

func headerParam(h domain.HeaderSpec) parameter {
	switch v := h.(type) {
	case domain.TextHeader:
		return parameter{Type: "text", Text: v.Text}
	case domain.MediaHeader:
		md := &media{Link: v.URL}
		switch v.Kind() {
		case domain.HeaderImage:
			return parameter{Type: "image", Image: md}
		case domain.HeaderVideo:
			return parameter{Type: "video", Video: md}
		default:
			md.Filename = v.Filename
			return parameter{Type: "document", Document: md}
		}
	case domain.LocationHeader:
		return parameter{Type: "location", Location: &location{
			Latitude:  strconv.FormatFloat(v.Latitude, 'f', -1, 64),
			Longitude: strconv.FormatFloat(v.Longitude, 'f', -1, 64),
			Name:      v.Name,
			Address:   v.Address,
		}}
	}
	return parameter{Type: "text"}
}
