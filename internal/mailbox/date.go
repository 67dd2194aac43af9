package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var errNoDate = errors.New("no Date header")

// fallbackLayouts are tried when mail parsing rejects a Date header.
// Values without a zone are read as UTC.
var fallbackLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 02 Jan 2006 15:04:05",
	"2 Jan 2006 15:04:05",
	"02 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseHeaderDate reads a raw header block and returns its Date in UTC.
func parseHeaderDate(raw []byte) (time.Time, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return time.Time{}, fmt.Errorf("reading header: %w", err)
	}
	return headerDate(mail.Header{Header: message.Header{Header: h}})
}

// headerDate returns the Date of h in UTC. Dates without a zone are
// interpreted as UTC.
func headerDate(h mail.Header) (time.Time, error) {
	value := strings.TrimSpace(h.Get("Date"))
	if value == "" {
		return time.Time{}, errNoDate
	}

	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t.UTC(), nil
	}

	return parseFallback(value)
}

func parseFallback(value string) (time.Time, error) {
	// Drop a trailing comment such as "(UTC)".
	if i := strings.Index(value, "("); i > 0 {
		value = strings.TrimSpace(value[:i])
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
