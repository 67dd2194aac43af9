// Package sheet reads input rows from and writes results to Google Sheets.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/nhle/registry-submit/internal/model"
)

// Config locates the spreadsheet and carries its credentials.
type Config struct {
	SpreadsheetID string
	InputRange    string
	OutputRange   string

	// CredentialsJSON is a service-account key. It takes precedence over
	// APIKey, which only allows reads.
	CredentialsJSON []byte
	APIKey          string
}

// valuesAPI is the subset of the Sheets values API the client uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error)
	Clear(ctx context.Context, spreadsheetID, clearRange string) error
	Update(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error
}

// Client reads and writes one spreadsheet.
type Client struct {
	api     valuesAPI
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient authenticates against the Sheets API.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	var opt option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, model.Fatal("sheet.auth", fmt.Errorf("parsing service account: %w", err))
		}
		opt = option.WithTokenSource(creds.TokenSource)
	case cfg.APIKey != "":
		opt = option.WithAPIKey(cfg.APIKey)
	default:
		return nil, model.Fatal("sheet.auth", errors.New("no sheet credentials or API key configured"))
	}

	svc, err := sheets.NewService(ctx, opt)
	if err != nil {
		return nil, model.Fatal("sheet.auth", fmt.Errorf("creating sheets service: %w", err))
	}

	return newClient(&serviceValues{values: svc.Spreadsheets.Values}, cfg, logger), nil
}

func newClient(api valuesAPI, cfg Config, logger zerolog.Logger) *Client {
	c := &Client{api: api, cfg: cfg, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sheets-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return c
}

// isClientError reports request errors that retrying cannot fix.
func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
}

func (c *Client) execute(op string, fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReadRows returns the input rows with the header row dropped. Cells are
// converted to strings; blank rows are kept so batch order matches the
// sheet.
func (c *Client) ReadRows(ctx context.Context) ([]model.Row, error) {
	var values [][]interface{}
	err := c.execute("reading input rows", func() error {
		var err error
		values, err = c.api.Get(ctx, c.cfg.SpreadsheetID, c.cfg.InputRange)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, nil
	}

	rows := make([]model.Row, 0, len(values)-1)
	for _, cells := range values[1:] {
		rows = append(rows, model.NewRow(cellStrings(cells)...))
	}

	c.logger.Info().Int("rows", len(rows)).Msg("rows fetched from sheet")
	return rows, nil
}

// ReadRecords returns the result records already stored in the output
// range. Rows that cannot be read as records are dropped.
func (c *Client) ReadRecords(ctx context.Context) ([]model.ResultRecord, error) {
	values, err := c.readOutput(ctx)
	if err != nil {
		return nil, err
	}
	return parseRecords(values), nil
}

func (c *Client) readOutput(ctx context.Context) ([][]interface{}, error) {
	var values [][]interface{}
	err := c.execute("reading results", func() error {
		var err error
		values, err = c.api.Get(ctx, c.cfg.SpreadsheetID, c.cfg.OutputRange)
		return err
	})
	return values, err
}

func parseRecords(values [][]interface{}) []model.ResultRecord {
	var records []model.ResultRecord
	for i, cells := range values {
		fields := cellStrings(cells)
		if i == 0 && isHeader(fields) {
			continue
		}
		records = append(records, parseRecord(fields))
	}
	return records
}

// WriteResults merges fresh into the stored results and overwrites the
// output range with the merged set. Rows are written before anything is
// cleared, so a failed write leaves the stored results in place; only rows
// past the merged set are cleared afterwards.
func (c *Client) WriteResults(ctx context.Context, fresh []model.ResultRecord) error {
	stored, err := c.readOutput(ctx)
	if err != nil {
		return err
	}

	merged := MergeRecords(parseRecords(stored), fresh)

	values := make([][]interface{}, 0, len(merged)+1)
	values = append(values, toCells(header))
	for _, r := range merged {
		values = append(values, toCells(formatRecord(r)))
	}

	if err := c.execute("writing results", func() error {
		return c.api.Update(ctx, c.cfg.SpreadsheetID, c.cfg.OutputRange, values)
	}); err != nil {
		return err
	}

	if len(stored) > len(values) {
		tail, err := tailRange(c.cfg.OutputRange, len(values), len(stored))
		if err != nil {
			return err
		}
		if err := c.execute("clearing stale results", func() error {
			return c.api.Clear(ctx, c.cfg.SpreadsheetID, tail)
		}); err != nil {
			return err
		}
	}

	c.logger.Info().
		Int("new", len(fresh)).
		Int("total", len(merged)).
		Msg("results written to sheet")
	return nil
}

// tailRange returns the rows [from, to) of an A1 range, counted from its
// first row. "Results!A1:D" with from 4 and to 6 gives "Results!A5:D6".
func tailRange(a1 string, from, to int) (string, error) {
	sheetName, cells := "", a1
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		sheetName, cells = a1[:i+1], a1[i+1:]
	}

	start, end, found := strings.Cut(cells, ":")
	startCol, startRow, err := splitCell(start)
	if err != nil {
		return "", fmt.Errorf("output range %q: %w", a1, err)
	}
	endCol := startCol
	if found {
		if endCol, _, err = splitCell(end); err != nil {
			return "", fmt.Errorf("output range %q: %w", a1, err)
		}
	}
	if startRow == 0 {
		startRow = 1
	}

	return fmt.Sprintf("%s%s%d:%s%d", sheetName, startCol, startRow+from, endCol, startRow+to-1), nil
}

// splitCell splits "B12" into "B" and 12. A cell without a row gives 0.
func splitCell(cell string) (string, int, error) {
	i := strings.IndexFunc(cell, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		if cell == "" {
			return "", 0, errors.New("missing column")
		}
		return cell, 0, nil
	}
	if i == 0 {
		return "", 0, errors.New("missing column")
	}
	row, err := strconv.Atoi(cell[i:])
	if err != nil {
		return "", 0, fmt.Errorf("bad row in %q", cell)
	}
	return cell[:i], row, nil
}

func cellStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		switch v := cell.(type) {
		case nil:
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return out
}

func toCells(fields []string) []interface{} {
	out := make([]interface{}, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}

// serviceValues adapts the generated Sheets client to valuesAPI.
type serviceValues struct {
	values *sheets.SpreadsheetsValuesService
}

func (s *serviceValues) Get(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error) {
	resp, err := s.values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s *serviceValues) Clear(ctx context.Context, spreadsheetID, clearRange string) error {
	_, err := s.values.Clear(spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (s *serviceValues) Update(ctx context.Context, spreadsheetID, writeRange string, values [][]interface{}) error {
	_, err := s.values.Update(spreadsheetID, writeRange, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}
