package billing

import (
	"encoding/json"
	"math"
	"time"
)

// maxUnixSeconds is the largest instant a JSON-era date can represent
// (8.64e15 milliseconds after the epoch).
const maxUnixSeconds = 8.64e12

// SafeToDate converts a provider timestamp (seconds since the epoch) to a
// UTC time. Nil, non-numeric, NaN, infinite, zero, negative and
// out-of-range values yield nil.
func SafeToDate(v interface{}) *time.Time {
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case float32:
		secs = float64(n)
	case int:
		secs = float64(n)
	case int32:
		secs = float64(n)
	case int64:
		secs = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		secs = f
	default:
		return nil
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 || secs > maxUnixSeconds {
		return nil
	}
	whole, frac := math.Modf(secs)
	t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return &t
}
