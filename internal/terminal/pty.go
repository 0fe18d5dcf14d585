package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYSpawner spawns real shell processes behind a pseudo-terminal.
type PTYSpawner struct{}

// NewPTYSpawner creates the production spawner.
func NewPTYSpawner() *PTYSpawner {
	return &PTYSpawner{}
}

// Spawn starts the shell under a PTY and wires the data/exit callbacks.
func (s *PTYSpawner) Spawn(opts SpawnOptions, cb Callbacks) (ProcessHandle, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = os.Getenv("HOME")
		if workingDir == "" {
			workingDir = "/tmp"
		}
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	h := &ptyHandle{cmd: cmd, ptmx: ptmx}

	go h.readLoop(cb)
	go h.waitLoop(cb)

	return h, nil
}

// ptyHandle wraps one PTY-backed process.
type ptyHandle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
}

// readLoop pumps PTY output into OnData. One goroutine per process, so
// chunk order matches arrival order.
func (h *ptyHandle) readLoop(cb Callbacks) {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 && cb.OnData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cb.OnData(chunk)
		}
		if err != nil {
			if err != io.EOF && cb.OnError != nil && !h.isClosed() {
				cb.OnError(err)
			}
			return
		}
	}
}

func (h *ptyHandle) waitLoop(cb Callbacks) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.ptmx.Close()

	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}
	if cb.OnExit != nil {
		cb.OnExit(code)
	}
}

func (h *ptyHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *ptyHandle) Write(data []byte) error {
	if h.isClosed() {
		return ErrUnavailable
	}
	_, err := h.ptmx.Write(data)
	return err
}

func (h *ptyHandle) Resize(cols, rows int) error {
	if h.isClosed() {
		return ErrUnavailable
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (h *ptyHandle) Kill() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	return h.ptmx.Close()
}
