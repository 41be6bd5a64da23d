package store

import "time"

// timeLayout is the RFC3339Nano representation used for every TIMESTAMP
// column; sqlite has no native time type so timestamps round-trip as text.
const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
