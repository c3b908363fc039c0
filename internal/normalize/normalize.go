// Package normalize turns raw forecast provider payloads into ForecastRecords.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kjstillabower/weather-forecast-service/internal/models"
)

// Hourly sample offsets read from each provider day.
const (
	morningHour = 10
	eveningHour = 22
)

// Translator converts text into another language. Implemented by internal/translate.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Result is the output of Normalize: the kept days in payload order and the
// provider's display name for the location (translated to Latin script if needed).
type Result struct {
	Days             []models.DayRecord
	ResolvedLocation string
}

// Normalizer extracts per-day records from provider payloads.
type Normalizer struct {
	translator Translator
}

// New returns a Normalizer that uses translator for non-Latin location names.
func New(translator Translator) *Normalizer {
	return &Normalizer{translator: translator}
}

type rawPayload struct {
	ResolvedAddress *string   `json:"resolvedAddress"`
	Days            *[]rawDay `json:"days"`
}

type rawDay struct {
	Datetime *string   `json:"datetime"`
	Humidity *float64  `json:"humidity"`
	Hours    []rawHour `json:"hours"`
}

type rawHour struct {
	Temp *float64 `json:"temp"`
}

// Normalize parses raw and returns at most the first seven days. A day that lacks
// datetime, humidity, or a temperature at the morning or evening sample is left
// out, but its position still consumes a key, so keys can skip (day1, day3, ...).
// A zero humidity or sampled temperature counts as missing.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (Result, error) {
	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	if p.Days == nil {
		return Result{}, fmt.Errorf("%w: missing days", models.ErrMalformedPayload)
	}
	if p.ResolvedAddress == nil {
		return Result{}, fmt.Errorf("%w: missing resolvedAddress", models.ErrMalformedPayload)
	}

	location, err := n.resolveName(ctx, *p.ResolvedAddress)
	if err != nil {
		return Result{}, err
	}

	days := *p.Days
	if len(days) > models.MaxForecastDays {
		days = days[:models.MaxForecastDays]
	}
	out := make([]models.DayRecord, 0, len(days))
	for i, d := range days {
		rec, ok := dayRecord(d)
		if !ok {
			continue
		}
		rec.Key = fmt.Sprintf("day%d", i+1)
		out = append(out, rec)
	}
	return Result{Days: out, ResolvedLocation: location}, nil
}

func (n *Normalizer) resolveName(ctx context.Context, name string) (string, error) {
	if !NeedsTranslation(name) {
		return name, nil
	}
	if n.translator == nil {
		return "", fmt.Errorf("%w: no translator configured for %q", models.ErrTranslationFailed, name)
	}
	translated, err := n.translator.Translate(ctx, name, "auto", "en")
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTranslationFailed, err)
	}
	if strings.TrimSpace(translated) == "" {
		return "", fmt.Errorf("%w: empty translation for %q", models.ErrTranslationFailed, name)
	}
	return translated, nil
}

func dayRecord(d rawDay) (models.DayRecord, bool) {
	if len(d.Hours) <= eveningHour {
		return models.DayRecord{}, false
	}
	morning := d.Hours[morningHour].Temp
	evening := d.Hours[eveningHour].Temp
	if d.Datetime == nil || *d.Datetime == "" || !present(morning) || !present(evening) || !present(d.Humidity) {
		return models.DayRecord{}, false
	}
	return models.DayRecord{
		Datetime:    *d.Datetime,
		TempMorning: *morning,
		TempEvening: *evening,
		Humidity:    *d.Humidity,
	}, true
}

// present reports whether v is set and non-zero.
func present(v *float64) bool {
	return v != nil && *v != 0
}

// NeedsTranslation reports whether name has no ASCII lowercase letter, which is
// taken to mean it is written in a non-Latin script.
func NeedsTranslation(name string) bool {
	return !strings.ContainsAny(name, "abcdefghijklmnopqrstuvwxyz")
}

// Score is the hottest-day ranking value: morning plus the floored half of evening.
func Score(d models.DayRecord) float64 {
	return d.TempMorning + math.Floor(d.TempEvening/2)
}

// HottestDay returns the key of the first day with the highest Score, or
// models.NoHottestDay when days is empty.
func HottestDay(days []models.DayRecord) string {
	hottest := models.NoHottestDay
	var best float64
	for i, d := range days {
		s := Score(d)
		if i == 0 || s > best {
			best = s
			hottest = d.Key
		}
	}
	return hottest
}

// CacheKey derives the cache key from a resolved location name: the text before
// the first comma, trimmed and lower-cased ("Paris, Île-de-France, France" -> "paris").
func CacheKey(resolved string) string {
	name, _, _ := strings.Cut(resolved, ",")
	return strings.ToLower(strings.TrimSpace(name))
}

// BuildRecord assembles a ForecastRecord with its HottestDay computed up front.
func BuildRecord(key string, days []models.DayRecord, createdAt time.Time) models.ForecastRecord {
	if days == nil {
		days = []models.DayRecord{}
	}
	return models.ForecastRecord{
		Location:   key,
		Days:       days,
		HottestDay: HottestDay(days),
		CreatedAt:  createdAt,
	}
}
