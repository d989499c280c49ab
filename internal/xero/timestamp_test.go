package xero

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestamp_RoundTripKeepsMicroseconds(t *testing.T) {
	orig := NewTimestamp(time.Date(2024, 3, 9, 14, 5, 6, 123456789, time.Local))

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(b) != `"2024-03-09T14:05:06.123456"` {
		t.Errorf("Marshal() = %s", b)
	}

	var got Timestamp
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if !got.Equal(orig.Time) {
		t.Errorf("round trip = %v, want %v", got.Time, orig.Time)
	}
}

func TestTimestamp_ParsesOtherPrecisions(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2024-03-09T14:05:06"`, time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local)},
		{`"2024-03-09T14:05:06.5"`, time.Date(2024, 3, 9, 14, 5, 6, 500000000, time.Local)},
		{`"2024-03-09T14:05:06.123"`, time.Date(2024, 3, 9, 14, 5, 6, 123000000, time.Local)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got Timestamp
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Unmarshal() = %v, want %v", got.Time, tt.want)
			}
		})
	}
}

func TestTimestamp_RejectsBadInput(t *testing.T) {
	for _, in := range []string{`12345`, `"2024-03-09"`, `"2024-03-09T14:05:06Z"`, `"yesterday"`} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err == nil {
			t.Errorf("Unmarshal(%s) expected error", in)
		}
	}
}
