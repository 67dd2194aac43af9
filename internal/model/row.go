package model

import "strings"

// MaxBatchSize is the number of phone-number slots the registration form
// accepts in a single submission.
const MaxBatchSize = 20

// Row is one input record read from the source sheet.
type Row struct {
	// Fields holds the cell values in sheet column order. The first field
	// is the phone number; the rest are auxiliary and never submitted.
	Fields []string `json:"fields"`
}

// NewRow builds a Row from cell values.
func NewRow(fields ...string) Row {
	return Row{Fields: fields}
}

// Phone returns the raw phone-number cell, or "" for an empty row.
func (r Row) Phone() string {
	if len(r.Fields) == 0 {
		return ""
	}
	return r.Fields[0]
}

// Serialized returns the row as a single string, used when inspecting a
// row for upstream contamination.
func (r Row) Serialized() string {
	return strings.Join(r.Fields, " ")
}

// Batch is an ordered group of rows submitted through one form instance.
type Batch struct {
	// Index is the zero-based position of the batch within the run.
	Index int `json:"index"`

	// Rows holds the batch members in input order.
	Rows []Row `json:"rows"`
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Rows)
}
