package httpHelpers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Timings map[string]time.Duration

// FormatTimings renders timings as a Server-Timing value, names sorted.
func FormatTimings(timings Timings) string {
	names := make([]string, 0, len(timings))
	for k := range timings {
		names = append(names, k)
	}
	sort.Strings(names)

	entries := make([]string, 0, len(names))
	for _, k := range names {
		entries = append(entries, fmt.Sprintf("%s;dur=%.2f", k, timings[k].Seconds()*1000.0))
	}
	return strings.Join(entries, ",")
}

func WriteTimings(h http.Header, timings Timings) {
	h.Set("Server-Timing", FormatTimings(timings))
}
