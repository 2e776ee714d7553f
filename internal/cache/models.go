package cache

import (
	"encoding/json"
	"time"
)

// Record is a cached token value as persisted in bbolt
type Record struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int `json:"total_entries"`
	HitCount     int `json:"hit_count"`
	MissCount    int `json:"miss_count"`
	EvictedCount int `json:"evicted_count"`
	CleanupCount int `json:"cleanup_count"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Record
func (r *Record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Record
func (r *Record) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// MarshalBinary implements encoding.BinaryMarshaler for Stats
func (s *Stats) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Stats
func (s *Stats) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// ExpiredAt reports whether the record is expired at now
func (r *Record) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
