package xero

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the stored form of credential timestamps: a naive wall
// clock with microsecond precision and no zone designator.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// parseLayout accepts any fractional precision, including none.
const parseLayout = "2006-01-02T15:04:05"

// Timestamp is a credential expiry instant. It serializes as server-local wall
// clock time without a zone, so every instance must run in the same timezone.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to microseconds, the precision that survives storage
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Microsecond)}
}

// String renders the stored form
func (t Timestamp) String() string {
	return t.In(time.Local).Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("xero: timestamp must be a string: %w", err)
	}
	parsed, err := time.ParseInLocation(parseLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("xero: invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}
