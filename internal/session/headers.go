package session

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Header defaults for fields missing from a message.
const (
	DefaultSubject = "(No Subject)"
	DefaultSender  = "Unknown Sender"
	DefaultDate    = "Unknown Date"
)

// Header holds the display fields of a message header block.
type Header struct {
	Subject string
	From    string
	To      string
	Date    string
}

// ParseHeader extracts Subject, From, To and Date from a raw RFC 5322
// header block. Field lookup is case-insensitive and encoded words are
// decoded. Headers go-message cannot parse fall back to a plain
// line scan.
func ParseHeader(raw []byte) Header {
	buf := make([]byte, 0, len(raw)+2)
	buf = append(buf, raw...)
	buf = append(buf, '\r', '\n')

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return scanHeader(raw)
	}

	h := mail.Header{Header: message.Header{Header: th}}
	return Header{
		Subject: field(h, "Subject", DefaultSubject),
		From:    field(h, "From", DefaultSender),
		To:      field(h, "To", ""),
		Date:    field(h, "Date", DefaultDate),
	}
}

func field(h mail.Header, key, def string) string {
	if !h.Has(key) {
		return def
	}
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}

func scanHeader(raw []byte) Header {
	out := Header{
		Subject: DefaultSubject,
		From:    DefaultSender,
		Date:    DefaultDate,
	}
	found := map[string]bool{}

	for _, line := range strings.Split(string(raw), "\n") {
		name, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		if found[key] {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "subject":
			out.Subject = value
		case "from":
			out.From = value
		case "to":
			out.To = value
		case "date":
			out.Date = value
		default:
			continue
		}
		found[key] = true
	}
	return out
}
