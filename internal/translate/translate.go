// Package translate calls the public Google Translate endpoint used to turn
// non-Latin location names into English.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-forecast-service/internal/observability"
)

// DefaultURL is the translate_a endpoint queried with client=gtx.
const DefaultURL = "https://translate.googleapis.com/translate_a/single"

// ErrEmptyTranslation is returned when the response holds no translated text.
var ErrEmptyTranslation = errors.New("empty translation")

// GoogleTranslator implements normalize.Translator.
type GoogleTranslator struct {
	apiURL string
	client *http.Client
}

// NewGoogleTranslator returns a translator for apiURL (DefaultURL when empty).
func NewGoogleTranslator(apiURL string, timeout time.Duration) *GoogleTranslator {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	return &GoogleTranslator{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Translate returns text translated from source to target. Any transport, status
// or decoding failure is returned to the caller.
func (g *GoogleTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	out, err := g.translate(ctx, text, source, target)
	if err != nil {
		observability.TranslationsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	observability.TranslationsTotal.WithLabelValues("success").Inc()
	return out, nil
}

func (g *GoogleTranslator) translate(ctx context.Context, text, source, target string) (string, error) {
	u, err := url.Parse(g.apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid translate URL: %w", err)
	}
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", source)
	params.Set("tl", target)
	params.Set("dt", "t")
	params.Set("q", text)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return parseResponse(body)
}

// parseResponse concatenates the translated segments of a translate_a reply:
// [[["Tel Aviv","תל אביב",null,null,10]],null,"iw",...]
func parseResponse(body []byte) (string, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(top) == 0 {
		return "", ErrEmptyTranslation
	}
	var segments [][]interface{}
	if err := json.Unmarshal(top[0], &segments); err != nil {
		return "", fmt.Errorf("parse response segments: %w", err)
	}
	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}
