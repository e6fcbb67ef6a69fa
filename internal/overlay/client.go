package overlay

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// Dial opens a connection to targetAddr (a 56-character hidden-service
// address, optionally with an explicit ":port") through the daemon's local
// SOCKS5 proxy. Without an explicit port it targets cfg.VirtualPort — the
// daemon maps that virtual port back onto the peer's real loopback listener
// the same way it maps our own, so callers never deal with a peer's
// physical port.
func Dial(ctx context.Context, cfg *config.Config, targetAddr string) (net.Conn, error) {
	const op = "overlay.Dial"

	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.SocksPort), nil, proxy.Direct)
	if err != nil {
		return nil, errs.New(op, errs.Connection, err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		target := targetAddr
		if _, _, splitErr := net.SplitHostPort(targetAddr); splitErr != nil {
			target = fmt.Sprintf("%s:%d", targetAddr, cfg.VirtualPort)
		}
		conn, err := dialer.Dial("tcp", target)
		done <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.New(op, errs.Timeout, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, errs.New(op, errs.Connection, r.err)
		}
		return r.conn, nil
	}
}

// Send dials targetAddr, writes body followed by a single "\n", half-closes
// the write side if the connection supports it, and reads back the peer's
// acknowledgement. The daemon-side framing (see listener.go) reads until that
// newline or EOF and then writes back "OK\n" once the callback has processed
// the frame; a connection that accepts
// the write but never acknowledges it does not count as delivered, so the
// caller can fall back to offline staging instead of reporting a false
// success.
func Send(ctx context.Context, cfg *config.Config, targetAddr string, body []byte) error {
	const op = "overlay.Send"

	conn, err := Dial(ctx, cfg, targetAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	frame := make([]byte, 0, len(body)+1)
	frame = append(append(frame, body...), '\n')
	if _, err := conn.Write(frame); err != nil {
		return errs.New(op, errs.Connection, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	return awaitAck(conn, op)
}

// awaitAck reads up to one buffer from conn and returns success iff the
// trimmed response equals "OK". A peer that accepted the write but closes
// without ever sending this does not count as having delivered the frame.
func awaitAck(conn net.Conn, op string) error {
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return errs.New(op, errs.Connection, fmt.Errorf("no acknowledgement from peer: %w", err))
	}
	if strings.TrimSpace(string(buf[:n])) != "OK" {
		return errs.New(op, errs.Connection, fmt.Errorf("peer did not acknowledge delivery"))
	}
	return nil
}

// Fetch dials targetAddr, writes body, then reads the peer's full response
// until EOF or ctx cancellation.
func Fetch(ctx context.Context, cfg *config.Config, targetAddr string, body []byte) ([]byte, error) {
	const op = "overlay.Fetch"

	conn, err := Dial(ctx, cfg, targetAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
	}

	if _, err := conn.Write(body); err != nil {
		return nil, errs.New(op, errs.Connection, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, errs.New(op, errs.Connection, err)
	}
	return resp, nil
}
