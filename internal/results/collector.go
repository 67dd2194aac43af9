// Package results accumulates the per-number outcome of a run.
package results

import (
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/registry-submit/internal/batch"
	"github.com/nhle/registry-submit/internal/model"
)

// offsetToken matches a UTC offset such as "+00:00" left in a row by an
// earlier write-back.
var offsetToken = regexp.MustCompile(`[+-]\d{2}:\d{2}`)

// Contaminated reports whether row carries a stray timestamp offset.
func Contaminated(row model.Row) bool {
	return offsetToken.MatchString(row.Serialized())
}

// Collector gathers ResultRecords in submission order.
type Collector struct {
	records []model.ResultRecord
	logger  zerolog.Logger
}

// NewCollector returns an empty Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordSuccess emits one record per submitted row of b, stamped with at
// and sharing feedbackID. Contaminated and malformed rows are skipped. It
// returns the number of records added.
func (c *Collector) RecordSuccess(b model.Batch, feedbackID string, at time.Time) int {
	added := 0
	for i, row := range b.Rows {
		if Contaminated(row) {
			c.logger.Warn().Int("batch", b.Index+1).Int("row", i).Msg("skipping row with stray timestamp")
			continue
		}
		phone, err := batch.CheckRow(row)
		if err != nil {
			c.logger.Warn().Err(err).Int("batch", b.Index+1).Int("row", i).Msg("skipping row")
			continue
		}

		c.records = append(c.records, model.ResultRecord{
			PhoneNumber: phone,
			Status:      model.StatusSubmitted,
			RecordedAt:  at.UTC(),
			FeedbackID:  feedbackID,
		})
		added++
	}

	c.logger.Info().
		Int("batch", b.Index+1).
		Str("feedback_id", feedbackID).
		Int("records", added).
		Msg("batch finished successfully")
	return added
}

// RecordFailure logs a failed batch. Failures never produce records.
func (c *Collector) RecordFailure(b model.Batch, reason error) {
	c.logger.Error().
		Err(reason).
		Int("batch", b.Index+1).
		Int("rows", b.Len()).
		Msg("batch returned with an error")
}

// Records returns a copy of the accumulated records.
func (c *Collector) Records() []model.ResultRecord {
	out := make([]model.ResultRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of accumulated records.
func (c *Collector) Len() int {
	return len(c.records)
}
