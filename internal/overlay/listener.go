package overlay

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Hamza1s34/Gumnam/internal/config"
)

// listener accepts the loopback-side connections a running daemon forwards
// from the hidden service's virtual port. Each connection is inspected for
// an HTTP request line; when present it is served as plain HTTP (used by
// companion tooling and health checks), otherwise the body up to the first
// newline (or connection close) is read and handed to the registered
// MessageCallback as a single framed message.
type listener struct {
	cfg *config.Config
	ln  net.Listener
	cb  MessageCallback

	wg   sync.WaitGroup
	once sync.Once
}

func newListener(cfg *config.Config, cb MessageCallback) (*listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.LoopbackPort))
	if err != nil {
		return nil, err
	}
	return &listener{cfg: cfg, ln: ln, cb: cb}, nil
}

func (l *listener) serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

func (l *listener) stop() {
	l.once.Do(func() {
		l.ln.Close()
	})
	l.wg.Wait()
}

// handle peeks at the first line to decide framing. A line beginning with a
// recognized HTTP method is served as an HTTP request with a plain status
// response; anything else is treated as a raw protocol-message frame
// terminated by a newline or by connection close, per SPEC_FULL.md §4.E.
// At most cfg.MaxMessageBytes are read from one connection.
func (l *listener) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(io.LimitReader(conn, l.cfg.MaxMessageBytes))
	peek, err := reader.Peek(8)
	if err != nil && err != io.EOF {
		return
	}

	if looksLikeHTTP(peek) {
		l.handleHTTP(conn, reader)
		return
	}

	body, err := reader.ReadString('\n')
	if err != nil && len(body) == 0 {
		log.Printf("[overlay] inbound read error: %v", err)
		return
	}
	if l.cb != nil {
		l.cb(strings.TrimSuffix(body, "\n"))
	}
	io.WriteString(conn, "OK\n")
}

var httpMethods = []string{"GET ", "POST ", "PUT ", "HEAD ", "OPTIONS "}

func looksLikeHTTP(peek []byte) bool {
	s := string(peek)
	for _, m := range httpMethods {
		if strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

func (l *listener) handleHTTP(conn net.Conn, reader *bufio.Reader) {
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}
	defer req.Body.Close()

	if req.URL.Path == "/health" {
		resp := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"
		io.WriteString(conn, resp)
		return
	}

	body, _ := io.ReadAll(req.Body)
	if l.cb != nil {
		l.cb(string(body))
	}

	resp := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len("accepted")) + "\r\nConnection: close\r\n\r\naccepted"
	io.WriteString(conn, resp)
}
