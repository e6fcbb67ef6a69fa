// Package overlay supervises the external Tor-style overlay daemon, parses
// its bootstrap progress, accepts inbound connections on a loopback port,
// and dials peers through the daemon's SOCKS5 proxy.
package overlay

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/Hamza1s34/Gumnam/internal/config"
	"github.com/Hamza1s34/Gumnam/internal/errs"
)

// State is the transport's lifecycle state (SPEC_FULL.md §4.E).
type State int

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// BootstrapCallback is invoked with (percent, phase) each time the daemon
// reports bootstrap progress.
type BootstrapCallback func(percent int, phase string)

// MessageCallback is invoked with the raw UTF-8 body of a non-HTTP inbound
// frame.
type MessageCallback func(body string)

var bootstrapRe = regexp.MustCompile(`Bootstrapped (\d+)% \(([^)]+)\)`)

// Service owns the daemon child process and the inbound loopback listener.
type Service struct {
	cfg *config.Config

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	addr  string // published hidden-service address once known

	onBootstrap BootstrapCallback
	onMessage   MessageCallback

	listener *listener
}

// New returns a Stopped Service bound to cfg.
func New(cfg *config.Config) *Service {
	return &Service{cfg: cfg, state: Stopped}
}

// SetBootstrapCallback registers the progress callback. Must be called
// before Start.
func (s *Service) SetBootstrapCallback(cb BootstrapCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBootstrap = cb
}

// SetMessageHandler registers the inbound-message callback. Must be called
// before Start.
func (s *Service) SetMessageHandler(cb MessageCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = cb
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the published hidden-service address, or "" if not yet
// known.
func (s *Service) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start spawns the daemon, begins parsing its output, and begins listening
// on the loopback port. It blocks (bounded by cfg.BootstrapWait) waiting for
// the hidden-service hostname file to appear; on timeout it returns nil with
// the service left in Starting, per SPEC_FULL.md §4.E.
func (s *Service) Start(torBinary string) error {
	const op = "overlay.Start"

	s.killStaleDaemon()

	if err := os.MkdirAll(s.cfg.TorDataDir(), 0o700); err != nil {
		return errs.New(op, errs.StartFailed, fmt.Errorf("create tor data dir: %w", err))
	}
	if err := os.MkdirAll(s.cfg.HiddenServiceDir(), 0o700); err != nil {
		return errs.New(op, errs.StartFailed, fmt.Errorf("create hidden service dir: %w", err))
	}
	os.Remove(s.cfg.LockPath())

	args := s.daemonArgs()
	cmd := exec.Command(torBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.New(op, errs.StartFailed, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errs.New(op, errs.StartFailed, fmt.Errorf("spawn daemon: %w", err))
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = Starting
	s.mu.Unlock()

	go s.monitorOutput(stdout)

	lst, err := newListener(s.cfg, s.dispatchInbound)
	if err != nil {
		s.killDaemon()
		return errs.New(op, errs.StartFailed, fmt.Errorf("listen on loopback port: %w", err))
	}
	s.mu.Lock()
	s.listener = lst
	s.mu.Unlock()
	go lst.serve()

	hostname, ok := s.waitForHostname()
	if !ok {
		log.Printf("[overlay] hidden service hostname not produced within %s; still Starting", s.cfg.BootstrapWait)
		return nil
	}

	s.mu.Lock()
	s.addr = hostname
	s.state = Running
	s.mu.Unlock()
	log.Printf("[overlay] hidden service address published: %s", hostname)
	return nil
}

// Stop signals the listener to shut down, kills the daemon, waits, and
// removes the lock file.
func (s *Service) Stop() error {
	s.mu.Lock()
	lst := s.listener
	s.mu.Unlock()

	if lst != nil {
		lst.stop()
	}
	s.killDaemon()
	s.killStaleDaemon()
	os.Remove(s.cfg.LockPath())

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	return nil
}

func (s *Service) killDaemon() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}

// killStaleDaemon kills any daemon still holding our data directory from a
// previous crash, mirroring tor_service.rs's kill_existing_tor_processes.
func (s *Service) killStaleDaemon() {
	if runtime.GOOS == "windows" {
		return
	}
	out, err := exec.Command("pgrep", "-f", s.cfg.TorDataDir()).Output()
	if err != nil || len(out) == 0 {
		return
	}
	_ = exec.Command("pkill", "-f", s.cfg.TorDataDir()).Run()
	time.Sleep(200 * time.Millisecond)
}

func (s *Service) daemonArgs() []string {
	hsPortMapping := fmt.Sprintf("%d 127.0.0.1:%d", s.cfg.VirtualPort, s.cfg.LoopbackPort)
	return []string{
		"--SocksPort", strconv.Itoa(s.cfg.SocksPort),
		"--ControlPort", strconv.Itoa(s.cfg.ControlPort),
		"--DataDirectory", s.cfg.TorDataDir(),
		"--HiddenServiceDir", s.cfg.HiddenServiceDir(),
		"--HiddenServicePort", hsPortMapping,
	}
}

// monitorOutput streams the daemon's stdout, parsing bootstrap progress
// lines and invoking the registered callback.
func (s *Service) monitorOutput(r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := bootstrapRe.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.Atoi(m[1])
			phase := m[2]
			s.mu.Lock()
			cb := s.onBootstrap
			s.mu.Unlock()
			if cb != nil {
				cb(pct, phase)
			}
			if pct == 100 {
				log.Printf("[overlay] daemon fully bootstrapped")
			}
		}
	}
}

func (s *Service) waitForHostname() (string, bool) {
	deadline := time.Now().Add(s.cfg.BootstrapWait)
	hostnamePath := filepath.Join(s.cfg.HiddenServiceDir(), "hostname")
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(hostnamePath)
		if err == nil && len(b) > 0 {
			return trimAddr(string(b)), true
		}
		time.Sleep(time.Second)
	}
	return "", false
}

func trimAddr(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func (s *Service) dispatchInbound(body string) {
	s.mu.Lock()
	cb := s.onMessage
	s.mu.Unlock()
	if cb != nil {
		cb(body)
	}
}
