// Package translate implements chat message translation backed by the
// MyMemory public translation API.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/text/language"
)

// DefaultEndpoint is the public MyMemory API.
const DefaultEndpoint = "https://api.mymemory.translated.net/get"

// ErrRejected is returned when the service answers with a non-200 status in
// its payload.
var ErrRejected = errors.New("translation rejected")

// MyMemory translates text through the MyMemory HTTP API.
type MyMemory struct {
	endpoint string
	client   *http.Client
}

// NewMyMemory creates a client for endpoint. Each call is bounded by timeout.
func NewMyMemory(endpoint string, timeout time.Duration) *MyMemory {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &MyMemory{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type response struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus json.RawMessage `json:"responseStatus"`
}

// Translate converts text from one language to another.
func (m *MyMemory) Translate(ctx context.Context, text string, from, to language.Tag) (string, error) {
	u, err := url.Parse(m.endpoint)
	if err != nil {
		return "", fmt.Errorf("translation endpoint: %w", err)
	}
	q := u.Query()
	q.Set("of", "json")
	q.Set("q", text)
	q.Set("langpair", base(from)+"|"+base(to))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build translation request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: http status %d", ErrRejected, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode translation: %w", err)
	}
	// the status is a number on success and sometimes a quoted string on errors
	status := string(bytes.Trim(body.ResponseStatus, `"`))
	if status != "200" {
		return "", fmt.Errorf("%w: status %s", ErrRejected, status)
	}
	if body.ResponseData.TranslatedText == "" {
		return "", fmt.Errorf("%w: empty translation", ErrRejected)
	}
	return body.ResponseData.TranslatedText, nil
}

// base reduces a tag to its base language, e.g. "en-US" to "en".
func base(tag language.Tag) string {
	b, _ := tag.Base()
	return b.String()
}
