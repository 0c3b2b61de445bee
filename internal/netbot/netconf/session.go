package netconf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

// endOfMessage is the NETCONF 1.0 message delimiter.
const endOfMessage = "]]>]]>"

const clientHello = `<?xml version="1.0" encoding="UTF-8"?>
<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities>
    <capability>urn:ietf:params:netconf:base:1.0</capability>
  </capabilities>
</hello>`

// Session exchanges RPCs with one device.
type Session interface {
	// Call wraps body in an <rpc> envelope, sends it and returns the raw
	// <rpc-reply> document.
	Call(ctx context.Context, body string) ([]byte, error)
	Close() error
}

// Dialer opens a Session to address.
type Dialer func(ctx context.Context, address string) (Session, error)

// SSHDialer returns a Dialer that speaks NETCONF over the "netconf" SSH
// subsystem on port.
func SSHDialer(cfg device.SSHConfig, port int) Dialer {
	return func(ctx context.Context, address string) (Session, error) {
		conn, err := device.DialSSH(ctx, address, port, cfg)
		if err != nil {
			return nil, err
		}
		s, err := newSSHSession(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	}
}

type sshSession struct {
	conn   *device.Conn
	sess   *ssh.Session
	stream *framer
	nextID atomic.Uint64
}

func newSSHSession(ctx context.Context, conn *device.Conn) (*sshSession, error) {
	sess, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := sess.RequestSubsystem("netconf"); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request netconf subsystem: %w", err)
	}

	s := &sshSession{conn: conn, sess: sess, stream: newFramer(stdout, stdin)}
	if err := s.hello(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *sshSession) hello(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.sess.Close() })
	defer stop()

	if _, err := s.stream.read(); err != nil {
		return ctxErr(ctx, fmt.Errorf("read server hello: %w", err))
	}
	if err := s.stream.write([]byte(clientHello)); err != nil {
		return ctxErr(ctx, fmt.Errorf("send hello: %w", err))
	}
	return nil
}

func (s *sshSession) Call(ctx context.Context, body string) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { s.sess.Close() })
	defer stop()

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	if err := s.stream.write(envelope(id, body)); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("send rpc %s: %w", id, err))
	}
	reply, err := s.stream.read()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("read reply %s: %w", id, err))
	}
	return reply, nil
}

func (s *sshSession) Close() error {
	// close-session is a courtesy; the transport is torn down regardless.
	_ = s.stream.write(envelope("close", "<close-session/>"))
	s.sess.Close()
	return s.conn.Close()
}

func envelope(id, body string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<rpc message-id="` + id + `" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
		body + `</rpc>`)
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// framer reads and writes ]]>]]>-delimited messages.
type framer struct {
	r *bufio.Reader
	w io.Writer
}

func newFramer(r io.Reader, w io.Writer) *framer {
	return &framer{r: bufio.NewReader(r), w: w}
}

func (f *framer) write(msg []byte) error {
	buf := make([]byte, 0, len(msg)+len(endOfMessage)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	buf = append(buf, endOfMessage...)
	_, err := f.w.Write(buf)
	return err
}

// read returns the next message without its delimiter.
func (f *framer) read() ([]byte, error) {
	var msg bytes.Buffer
	delim := []byte(endOfMessage)
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && msg.Len() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		msg.WriteByte(b)
		if b == '>' && bytes.HasSuffix(msg.Bytes(), delim) {
			out := msg.Bytes()[:msg.Len()-len(delim)]
			return bytes.TrimSpace(out), nil
		}
	}
}
