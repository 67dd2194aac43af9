// Package batch groups input rows into the fixed-size batches the
// registration form accepts.
package batch

import (
	"fmt"

	"github.com/nhle/registry-submit/internal/model"
)

// Plan partitions rows into consecutive batches of at most maxSize rows,
// preserving input order. Only the last batch may be short. An empty input
// yields no batches.
func Plan(rows []model.Row, maxSize int) ([]model.Batch, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", maxSize)
	}

	batches := make([]model.Batch, 0, (len(rows)+maxSize-1)/maxSize)
	for start := 0; start < len(rows); start += maxSize {
		end := min(start+maxSize, len(rows))

		members := make([]model.Row, end-start)
		copy(members, rows[start:end])

		batches = append(batches, model.Batch{
			Index: len(batches),
			Rows:  members,
		})
	}

	return batches, nil
}
