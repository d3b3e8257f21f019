package session

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	pkgerrors "github.com/pkg/errors"
)

// IMAPDialer connects with go-imap. UseTLS selects implicit TLS,
// StartTLS upgrades a plaintext connection, and neither dials plaintext.
type IMAPDialer struct {
	// TLSConfig is cloned per dial; ServerName defaults to the host.
	TLSConfig *tls.Config
}

// Dial implements Dialer. The greeting and any STARTTLS exchange are
// bounded by ctx's deadline.
func (d IMAPDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	addr := creds.Address()

	tlsConfig := &tls.Config{}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = creds.Server
	}

	var (
		raw net.Conn
		err error
	)
	if creds.UseTLS {
		raw, err = (&tls.Dialer{Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		raw, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}

	opts := &imapclient.Options{TLSConfig: tlsConfig}
	var client *imapclient.Client
	if creds.StartTLS && !creds.UseTLS {
		client, err = imapclient.NewStartTLS(raw, opts)
		if err != nil {
			_ = raw.Close()
			return nil, pkgerrors.Wrap(err, "starttls")
		}
	} else {
		client = imapclient.New(raw, opts)
		if err := client.WaitGreeting(); err != nil {
			_ = client.Close()
			return nil, pkgerrors.Wrap(err, "reading greeting")
		}
	}

	_ = raw.SetDeadline(time.Time{})

	c := &imapConn{client: client}
	c.alive.Store(true)
	return c, nil
}

// imapConn adapts *imapclient.Client to Conn.
type imapConn struct {
	client *imapclient.Client
	alive  atomic.Bool
}

func (c *imapConn) Login(username, password string) error {
	return c.check(c.client.Login(username, password).Wait())
}

func (c *imapConn) ListMailboxes() ([]string, error) {
	list, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, c.check(err)
	}
	names := make([]string, 0, len(list))
	for _, data := range list {
		names = append(names, data.Mailbox)
	}
	return names, nil
}

func (c *imapConn) MessageCount(mailbox string) (uint32, error) {
	data, err := c.client.Status(mailbox, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return 0, c.check(err)
	}
	if data.NumMessages == nil {
		return 0, pkgerrors.Errorf("server omitted MESSAGES for %s", mailbox)
	}
	return *data.NumMessages, nil
}

func (c *imapConn) Select(mailbox string) error {
	_, err := c.client.Select(mailbox, nil).Wait()
	return c.check(err)
}

func (c *imapConn) SearchAll() ([]uint32, error) {
	data, err := c.client.Search(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, c.check(err)
	}
	return data.AllSeqNums(), nil
}

func (c *imapConn) FetchHeaders(seqNums []uint32) (map[uint32][]byte, error) {
	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	cmd := c.client.Fetch(imap.SeqSetNum(seqNums...), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	out := make(map[uint32][]byte, len(seqNums))
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out[buf.SeqNum] = buf.FindBodySection(section)
	}

	if err := cmd.Close(); err != nil {
		return nil, c.check(err)
	}
	return out, nil
}

func (c *imapConn) Logout() error {
	return c.check(c.client.Logout().Wait())
}

func (c *imapConn) Close() error {
	c.alive.Store(false)
	return c.client.Close()
}

func (c *imapConn) Alive() bool {
	return c.alive.Load()
}

// check marks the connection dead on transport failures. Tagged NO/BAD
// responses leave it alive.
func (c *imapConn) check(err error) error {
	if err == nil {
		return nil
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.As(err, &netErr) || c.loggedOut() {
		c.alive.Store(false)
	}
	return err
}

// loggedOut reports whether the client has torn the connection down,
// which it does before failing pending commands.
func (c *imapConn) loggedOut() bool {
	return c.client != nil && c.client.State() == imap.ConnStateLogout
}
