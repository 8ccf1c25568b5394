// Package oracle produces a trusted UTC Unix-seconds value from a
// prioritized list of external time endpoints, with per-endpoint retry and
// fallback. It trusts TLS to authenticate the endpoints; the multi-endpoint
// design defends against downtime, not against a coordinated MITM.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTimeUnavailable is returned when every endpoint is exhausted without a
// successful response.
var ErrTimeUnavailable = errors.New("oracle: time unavailable")

const (
	maxAttemptsPerEndpoint = 3
	requestTimeout         = 4 * time.Second
	userAgent              = "timevault-oracle/1.0"
)

// baseBackoff is a var (not a const) purely so tests can shrink it. In
// production the waits between the three attempts on one endpoint are
// 500ms and then 1000ms; there is no wait before moving to the next
// endpoint.
var baseBackoff = 500 * time.Millisecond

// endpointKind identifies an endpoint by identity, never by comparing a
// human-readable label string against something shaped like a hostname —
// that comparison can never match and silently disables an endpoint.
type endpointKind int

const (
	worldTimeUTC endpointKind = iota
	worldClockAPI
	timeAPIio
	worldTimeIP
)

type endpoint struct {
	kind  endpointKind
	url   string
	parse func([]byte) (int64, error)
}

var endpoints = []endpoint{
	{worldTimeUTC, "https://worldtimeapi.org/api/timezone/Etc/UTC", parseUnixtimeField},
	{worldClockAPI, "http://worldclockapi.com/api/json/utc/now", parseWorldClockAPI},
	{timeAPIio, "https://timeapi.io/api/Time/current/zone?timeZone=UTC", parseDateTimeField},
	{worldTimeIP, "https://worldtimeapi.org/api/ip", parseUnixtimeField},
}

var httpClient = &http.Client{Timeout: requestTimeout}

// FetchNow queries the endpoint list in order, retrying each endpoint up to
// maxAttemptsPerEndpoint times with exponential backoff before moving on.
// It returns the UTC Unix-seconds value and a label identifying which
// endpoint answered, or ErrTimeUnavailable if every endpoint failed.
func FetchNow(ctx context.Context) (int64, string, error) {
	for _, ep := range endpoints {
		for attempt := 1; attempt <= maxAttemptsPerEndpoint; attempt++ {
			seconds, err := fetchOne(ctx, ep)
			if err == nil {
				return seconds, ep.url, nil
			}
			if ctx.Err() != nil {
				return 0, "", fmt.Errorf("oracle: %w", ctx.Err())
			}
			if attempt < maxAttemptsPerEndpoint {
				backoff := baseBackoff * time.Duration(1<<(attempt-1))
				select {
				case <-ctx.Done():
					return 0, "", fmt.Errorf("oracle: %w", ctx.Err())
				case <-time.After(backoff):
				}
			}
		}
	}
	return 0, "", ErrTimeUnavailable
}

func fetchOne(ctx context.Context, ep endpoint) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	return ep.parse(body)
}

func parseUnixtimeField(body []byte) (int64, error) {
	var payload struct {
		Unixtime int64 `json:"unixtime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse unixtime: %w", err)
	}
	if payload.Unixtime == 0 {
		return 0, errors.New("missing unixtime field")
	}
	return payload.Unixtime, nil
}

func parseDateTimeField(body []byte) (int64, error) {
	var payload struct {
		DateTime string `json:"dateTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse dateTime: %w", err)
	}
	if payload.DateTime == "" {
		return 0, errors.New("missing dateTime field")
	}
	t, err := time.Parse(time.RFC3339, payload.DateTime)
	if err != nil {
		// timeapi.io returns dateTime without a zone offset, which RFC3339
		// rejects; fall back to a zone-less layout (optional fractional
		// seconds), which time.Parse reads as UTC.
		t, err = time.Parse("2006-01-02T15:04:05.999999999", payload.DateTime)
		if err != nil {
			return 0, fmt.Errorf("parse dateTime %q: %w", payload.DateTime, err)
		}
	}
	return t.UTC().Unix(), nil
}

// windowsEpochOffset is the number of seconds between the Windows FILETIME
// epoch (1601-01-01) and the Unix epoch (1970-01-01).
const windowsEpochOffset = 11644473600

func parseWorldClockAPI(body []byte) (int64, error) {
	// currentFileTime is a JSON number on the real worldclockapi.com
	// response, not a string; json.Number accepts either encoding without
	// requiring a Decoder.UseNumber() call.
	var payload struct {
		CurrentDateTime string      `json:"currentDateTime"`
		CurrentFileTime json.Number `json:"currentFileTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse worldclockapi response: %w", err)
	}

	if payload.CurrentDateTime != "" {
		t, err := time.Parse(time.RFC3339, payload.CurrentDateTime)
		if err == nil {
			return t.UTC().Unix(), nil
		}
		// currentDateTime sometimes has no seconds ("2024-01-02T15:00Z");
		// fall through to currentFileTime rather than failing outright.
	}

	if payload.CurrentFileTime != "" {
		filetime, err := payload.CurrentFileTime.Int64()
		if err != nil {
			return 0, fmt.Errorf("parse currentFileTime: %w", err)
		}
		return filetime/10_000_000 - windowsEpochOffset, nil
	}

	return 0, errors.New("worldclockapi response had no usable time field")
}
