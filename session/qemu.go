package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Serial-console markers emitted by the target OS image.
const (
	readyMessage = "QEMU waiting for connection"
	shellPrompt  = "starry:~#"
)

// exitSentinel is appended to every command so the exit status travels over the
// serial channel alongside the output.
var exitSentinel = regexp.MustCompile(`__EXIT:(-?\d+)__`)

// QEMUConfig configures the serial-over-TCP runtime controller.
type QEMUConfig struct {
	// MakeBinary invokes the image's run target ("make ... justrun").
	MakeBinary string
	Arch       string
	Port       int
	// BootTimeout bounds how long to wait for the ready banner.
	BootTimeout time.Duration
	// ConnectRetries bounds serial connection attempts after boot.
	ConnectRetries int
}

func (c *QEMUConfig) withDefaults() QEMUConfig {
	out := *c
	if out.MakeBinary == "" {
		out.MakeBinary = "make"
	}
	if out.Arch == "" {
		out.Arch = "aarch64"
	}
	if out.Port == 0 {
		out.Port = 4444
	}
	if out.BootTimeout == 0 {
		out.BootTimeout = 60 * time.Second
	}
	if out.ConnectRetries == 0 {
		out.ConnectRetries = 5
	}
	return out
}

// qemuController boots the OS image under QEMU with its serial console exposed
// over TCP, and drives case commands through the guest shell.
type qemuController struct {
	cfg QEMUConfig
	log log.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	dead bool
}

// NewQEMUController returns a ControllerFactory for the given configuration.
func NewQEMUController(cfg QEMUConfig) ControllerFactory {
	resolved := cfg.withDefaults()
	return func(logger log.Logger) Controller {
		return &qemuController{cfg: resolved, log: logger}
	}
}

// Start boots QEMU against the session copy and waits for the ready banner.
func (q *qemuController) Start(ctx context.Context, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.BootTimeout)
	defer cancel()

	args := []string{
		fmt.Sprintf("ARCH=%s", q.cfg.Arch),
		"NET=n", "VSOCK=n", "ACCEL=n",
		"justrun",
		fmt.Sprintf("QEMU_ARGS=-monitor none -serial tcp::%d,server=on", q.cfg.Port),
	}
	cmd := exec.Command(q.cfg.MakeBinary, args...)
	cmd.Dir = dir
	// Own process group so Destroy can terminate the whole runtime tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching to runtime stderr: %w", err)
	}

	q.log.Debug("Booting target runtime", "command", cmd.String(), "dir", dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning runtime: %w", err)
	}

	q.mu.Lock()
	q.cmd = cmd
	q.mu.Unlock()

	ready := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), readyMessage) {
				close(ready)
				break
			}
		}
		// Drain the remainder so the child never blocks on a full pipe.
		for scanner.Scan() {
		}
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		_ = q.Destroy()
		return fmt.Errorf("runtime did not signal readiness within %s", q.cfg.BootTimeout)
	}
}

// Run sends the case command through the guest shell and captures everything
// written to the serial console up to the exit sentinel. Output captured before
// a timeout or crash is returned alongside the error for diagnostics.
func (q *qemuController) Run(ctx context.Context, command []string, timeout time.Duration) (RunResult, error) {
	full := strings.Join(command, " ")
	wire := fmt.Sprintf("%s; echo __EXIT:$?__", full)

	deadline := time.Now().Add(timeout)
	conn, err := q.connect(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("connecting to serial console: %w", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	promptSeen := false
	commandSent := false
	chunk := make([]byte, 1024)

	for {
		if err := ctx.Err(); err != nil {
			return RunResult{Output: buf.Bytes()}, err
		}
		readDeadline := time.Now().Add(2 * time.Second)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		_ = conn.SetReadDeadline(readDeadline)

		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Now().After(deadline) {
					return RunResult{Output: buf.Bytes()}, context.DeadlineExceeded
				}
				continue
			}
			return RunResult{Output: buf.Bytes()}, fmt.Errorf("serial console closed: %w", err)
		}

		if !promptSeen && bytes.Contains(buf.Bytes(), []byte(shellPrompt)) {
			promptSeen = true
			q.log.Debug("Shell prompt detected, executing case command", "command", full)
			if _, err := conn.Write([]byte(wire + "\n")); err != nil {
				return RunResult{Output: buf.Bytes()}, fmt.Errorf("sending command: %w", err)
			}
			commandSent = true
			buf.Reset()
			continue
		}

		if commandSent {
			if m := exitSentinel.FindSubmatch(buf.Bytes()); m != nil {
				code, convErr := strconv.Atoi(string(m[1]))
				if convErr != nil {
					return RunResult{Output: buf.Bytes()}, fmt.Errorf("malformed exit sentinel: %w", convErr)
				}
				_, _ = conn.Write([]byte("exit\n"))
				return RunResult{
					Output:   sanitizeOutput(buf.Bytes(), full, wire),
					ExitCode: code,
				}, nil
			}
		}
	}
}

// connect dials the serial console, retrying while the guest finishes binding
// the server socket.
func (q *qemuController) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(q.cfg.Port))
	var lastErr error
	for i := 0; i < q.cfg.ConnectRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	return nil, lastErr
}

// Destroy terminates the QEMU process group. Safe after a failed Start and on
// repeated calls.
func (q *qemuController) Destroy() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dead || q.cmd == nil || q.cmd.Process == nil {
		q.dead = true
		return nil
	}
	q.dead = true

	pid := q.cmd.Process.Pid
	// Negative pid targets the whole process group created at Start.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		q.log.Debug("SIGTERM to runtime group failed, escalating", "pid", pid, "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
	}
	return nil
}

// sanitizeOutput strips the echoed command, prompt and anything trailing the
// exit sentinel from the raw console capture.
func sanitizeOutput(raw []byte, command, wire string) []byte {
	text := strings.ReplaceAll(string(raw), "\r", "")
	for _, token := range []string{wire, command, shellPrompt} {
		text = strings.ReplaceAll(text, token, "")
	}
	if idx := exitSentinel.FindStringIndex(text); idx != nil {
		text = text[:idx[0]]
	}
	return []byte(strings.TrimSpace(text))
}
