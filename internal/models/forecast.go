package models

import "time"

// NoHottestDay is stored in ForecastRecord.HottestDay when no day qualified.
const NoHottestDay = "none"

// MaxForecastDays is the number of leading provider days kept per record.
const MaxForecastDays = 7

// DayRecord is one normalized forecast day. Key is "day<N>" where N is the
// 1-based position in the provider payload; skipped days leave gaps.
type DayRecord struct {
	Key         string  `json:"key"`
	Datetime    string  `json:"datetime"`
	TempMorning float64 `json:"tempMorning"`
	TempEvening float64 `json:"tempEvening"`
	Humidity    float64 `json:"humidity"`
}

// ForecastRecord is the cached value for one location key.
// HottestDay is derived when the record is built and stored alongside Days.
type ForecastRecord struct {
	Location   string      `json:"location"`
	Days       []DayRecord `json:"days"`
	HottestDay string      `json:"hottestDay"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Day returns the day stored under key, if any.
func (r ForecastRecord) Day(key string) (DayRecord, bool) {
	for _, d := range r.Days {
		if d.Key == key {
			return d, true
		}
	}
	return DayRecord{}, false
}

// LookupEntry is one line of the lookup ledger.
type LookupEntry struct {
	Time     time.Time `json:"time"`
	Location string    `json:"location"`
}
