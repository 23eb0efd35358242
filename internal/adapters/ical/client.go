// Package ical reads reservation calendars published as iCalendar (ICS) feeds.
package ical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"checkin_messenger/internal/adapters/httpx"
	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

var (
	ErrBadRef       = errors.New("ical: calendar reference is not an http(s) url")
	ErrNotFound     = errors.New("ical: calendar not found")
	ErrFeedTooLarge = errors.New("ical: feed too large")
)

const maxFeedBytes = 8 << 20

type Client struct {
	hc  *http.Client
	rl  *rate.Limiter
	loc *time.Location
}

// New returns a feed reader. loc is the zone check-in dates are expressed in;
// rps bounds outbound fetches across all rooms.
func New(loc *time.Location, rps int) *Client {
	if loc == nil {
		loc = time.UTC
	}
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		hc:  &http.Client{Timeout: 30 * time.Second},
		rl:  rate.NewLimiter(rate.Limit(rps), rps),
		loc: loc,
	}
}

// GetEvents fetches and parses the feed at ref. The date is not used to narrow
// the fetch; ICS feeds are always read whole.
func (c *Client) GetEvents(ctx context.Context, ref, _ string) ([]domain.ReservationEvent, error) {
	u, err := feedURL(ref)
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	cal, err := ics.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ical: parse feed: %w", err)
	}

	events := cal.Events()
	out := make([]domain.ReservationEvent, 0, len(events))
	for _, ev := range events {
		re, err := mapEvent(ev, c.loc)
		if err != nil {
			log.Warn().Err(err).Str("uid", ev.Id()).Msg("ical: event dropped")
			continue
		}
		out = append(out, re)
	}
	return out, nil
}

func feedURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	// webcal:// is plain https for fetching purposes
	if strings.HasPrefix(strings.ToLower(ref), "webcal://") {
		ref = "https://" + ref[len("webcal://"):]
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return u.String(), nil
}

// fetch GETs the feed with client-side rate limiting and retries on 429 and
// transient 5xx, honoring Retry-After.
func (c *Client) fetch(ctx context.Context, u string) (string, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Accept", "text/calendar, */*;q=0.5")
		req.Header.Set("User-Agent", "checkin-messenger/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("ical", "feed", 0, time.Since(start))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			log.Debug().Err(err).Str("kind", observability.LabelErr(err)).Int("attempt", i+1).Msg("ical: fetch error")
			if i < 2 && httpx.SleepCtx(ctx, httpx.Backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", lastErr
		}
		observability.ObserveExternal("ical", "feed", resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusOK:
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
			resp.Body.Close()
			if err != nil {
				return "", fmt.Errorf("ical: read feed: %w", err)
			}
			if len(b) > maxFeedBytes {
				return "", fmt.Errorf("%w: over %d bytes", ErrFeedTooLarge, maxFeedBytes)
			}
			return string(b), nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return "", ErrNotFound

		case httpx.Retryable(resp.StatusCode):
			wait := httpx.RetryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = httpx.Backoff(i)
			}
			lastErr = fmt.Errorf("ical: remote %d", resp.StatusCode)
			if i < 2 && httpx.SleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return "", fmt.Errorf("ical: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return "", lastErr
}
