package sheet

import (
	"strings"
	"time"

	"github.com/nhle/registry-submit/internal/model"
)

var header = []string{"Phone Number", "Status", "Timestamp", "Feedback ID"}

// timestampLayouts are accepted when reading stored results. Values are
// written as RFC 3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(fields[0], header[0])
}

func parseRecord(fields []string) model.ResultRecord {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	rec := model.ResultRecord{
		PhoneNumber: get(0),
		Status:      get(1),
		FeedbackID:  get(3),
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, get(2), time.UTC); err == nil {
			rec.RecordedAt = t.UTC()
			break
		}
	}
	return rec
}

func formatRecord(r model.ResultRecord) []string {
	return []string{
		r.PhoneNumber,
		r.Status,
		r.RecordedAt.UTC().Format(time.RFC3339),
		r.FeedbackID,
	}
}

// MergeRecords combines stored and fresh results. Stored rows without a
// phone number or feedback id are dropped. When a phone number appears
// more than once the most recent record wins, keeping the position of its
// first appearance; on equal timestamps the later record wins.
func MergeRecords(existing, fresh []model.ResultRecord) []model.ResultRecord {
	merged := make([]model.ResultRecord, 0, len(existing)+len(fresh))
	index := make(map[string]int, len(existing)+len(fresh))

	add := func(r model.ResultRecord) {
		if i, ok := index[r.PhoneNumber]; ok {
			if !r.RecordedAt.Before(merged[i].RecordedAt) {
				merged[i] = r
			}
			return
		}
		index[r.PhoneNumber] = len(merged)
		merged = append(merged, r)
	}

	for _, r := range existing {
		if strings.TrimSpace(r.PhoneNumber) == "" || strings.TrimSpace(r.FeedbackID) == "" {
			continue
		}
		add(r)
	}
	for _, r := range fresh {
		add(r)
	}

	return merged
}
