package emit

import (
	"fmt"
	"time"
)

// ObjectPath derives the archival object key for a buffer flush, per
// spec.md §3: <prefix>/YYYY/MM/DD/HH/<firstSeq>-<lastSeq>.<ext>. Year,
// month, day and hour are taken from firstTimestamp (UTC); if
// firstTimestamp is the zero value, the current UTC time is used.
func ObjectPath(prefix string, firstTimestamp time.Time, firstSeq, lastSeq string, gzip bool) string {
	ts := firstTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}
	ext := "json"
	if gzip {
		ext = "gzip"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s-%s.%s",
		prefix, ts.Year(), ts.Month(), ts.Day(), ts.Hour(), firstSeq, lastSeq, ext)
}
