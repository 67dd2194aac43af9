package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/registry-submit/internal/model"
)

// Config holds what is needed to open a session.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// Mailbox is the folder to select, usually INBOX.
	Mailbox string
}

const dialTimeout = 30 * time.Second

// Session owns one authenticated IMAP connection with a selected mailbox.
// It is not safe for concurrent use. A context cancelled during a call
// closes the connection, after which every call fails.
type Session struct {
	client   *imapclient.Client
	username string
	closed   bool
}

func newSession(client *imapclient.Client, username string) *Session {
	return &Session{client: client, username: username}
}

// Open dials the IMAP server, authenticates and selects the configured
// mailbox. Rejected credentials yield an *AuthError. ctx bounds the whole
// handshake.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	addr := cfg.Host + ":" + cfg.Port

	client, err := dial(ctx, addr, cfg.Host, cfg.TLS)
	if err != nil {
		return nil, model.Fatal("mailbox.open", fmt.Errorf("connecting to IMAP %s: %w", addr, err))
	}
	s := newSession(client, cfg.Username)
	stop := s.watch(ctx)
	defer stop()

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, model.Fatal("mailbox.open", interrupted(ctx, err))
		}
		return nil, &AuthError{
			Username: cfg.Username,
			Message:  err.Error(),
		}
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = s.Close()
		return nil, model.Fatal("mailbox.open", fmt.Errorf("selecting %s: %w", mailbox, interrupted(ctx, err)))
	}

	return s, nil
}

// dial connects with implicit TLS, or upgrades a plain connection with
// STARTTLS.
func dial(ctx context.Context, addr, host string, implicitTLS bool) (*imapclient.Client, error) {
	d := &net.Dialer{Timeout: dialTimeout}

	if implicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host, NextProtos: []string{"imap"}}}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, nil), nil
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := imapclient.NewStartTLS(conn, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: host},
	})
	if err != nil {
		return nil, interrupted(ctx, err)
	}
	return client, nil
}

// watch closes the connection if ctx ends before the returned stop is
// called.
func (s *Session) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { _ = s.client.Close() })
}

// interrupted attributes err to ctx when ctx has ended.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Search returns the UIDs of every message in the mailbox sent by sender.
func (s *Session) Search(ctx context.Context, sender string) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: sender},
		},
	}

	stop := s.watch(ctx)
	defer stop()

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &QueryError{Sender: sender, Err: interrupted(ctx, err)}
	}

	uids := searchData.AllUIDs()
	ids := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, uint32(uid))
	}
	return ids, nil
}

// FetchHeaderDate fetches only the Date header of a message and returns it
// in UTC. Messages without a parseable date yield a *ParseError.
func (s *Session) FetchHeaderDate(ctx context.Context, id uint32) (time.Time, error) {
	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: []string{"Date"},
		Peek:         true,
	}

	buf, err := s.fetchOne(ctx, id, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return time.Time{}, &ParseError{UID: id, Err: err}
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return time.Time{}, &ParseError{UID: id, Err: errNoDate}
	}

	date, err := parseHeaderDate(raw)
	if err != nil {
		return time.Time{}, &ParseError{UID: id, Err: err}
	}
	return date, nil
}

// FetchFull fetches the whole message and returns its date and decoded
// subject.
func (s *Session) FetchFull(ctx context.Context, id uint32) (model.EmailMessage, error) {
	section := &imap.FetchItemBodySection{Peek: true}

	buf, err := s.fetchOne(ctx, id, &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return model.EmailMessage{}, &FetchError{UID: id, Err: err}
	}

	msg := model.EmailMessage{ID: id}

	if raw := buf.FindBodySection(section); raw != nil {
		mr, err := mail.CreateReader(bytes.NewReader(raw))
		if err == nil {
			if subject, err := mr.Header.Subject(); err == nil {
				msg.Subject = subject
			}
			if date, err := headerDate(mr.Header); err == nil {
				msg.ReceivedAt = date
			}
			_ = mr.Close()
		}
	}

	// Fall back to the server-parsed envelope.
	if buf.Envelope != nil {
		if msg.Subject == "" {
			msg.Subject = decodeHeader(buf.Envelope.Subject)
		}
		if msg.ReceivedAt.IsZero() && !buf.Envelope.Date.IsZero() {
			msg.ReceivedAt = buf.Envelope.Date.UTC()
		}
	}

	if msg.Subject == "" && msg.ReceivedAt.IsZero() {
		return model.EmailMessage{}, &FetchError{UID: id, Err: errors.New("empty message")}
	}

	return msg, nil
}

// Close logs out and closes the connection. Calling it again is a no-op,
// as is closing a session whose connection already dropped.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	select {
	case <-s.client.Closed():
		return nil
	default:
	}

	logoutErr := s.client.Logout().Wait()
	closeErr := s.client.Close()
	if logoutErr != nil {
		return fmt.Errorf("logging out %s: %w", s.username, logoutErr)
	}
	return closeErr
}

func (s *Session) fetchOne(
	ctx context.Context, id uint32, opts *imap.FetchOptions,
) (*imapclient.FetchMessageBuffer, error) {
	stop := s.watch(ctx)
	defer stop()

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(id)), opts)

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, interrupted(ctx, err)
		}
		return nil, fmt.Errorf("message UID %d not found", id)
	}

	buf, err := msg.Collect()
	_ = fetchCmd.Close()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", interrupted(ctx, err))
	}

	return buf, nil
}

var mimeWordDecoder = &mime.WordDecoder{}

// decodeHeader decodes RFC 2047 encoded-words in a header value.
func decodeHeader(s string) string {
	decoded, err := mimeWordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
