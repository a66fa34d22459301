package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"handforge/internal/services"
)

// CommandSpec names the binary and arguments for one conversion process.
type CommandSpec struct {
	Binary string
	Args   []string
}

// Handle supervises one running process.
type Handle interface {
	// Lines streams combined stdout/stderr output line by line. The channel
	// closes when the process exits.
	Lines() <-chan string
	// Pause suspends the process (SIGSTOP).
	Pause() error
	// Resume continues a paused process (SIGCONT).
	Resume() error
	// Terminate asks the process to exit (SIGTERM) and kills it (SIGKILL)
	// if it is still running after grace.
	Terminate(grace time.Duration) error
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
}

// Runner launches conversion processes. The scheduler depends on this
// interface so tests can substitute a fake.
type Runner interface {
	Start(ctx context.Context, spec CommandSpec) (Handle, error)
}

// ExecRunner runs real processes via os/exec.
type ExecRunner struct{}

// NewExecRunner returns the production Runner.
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

func (r *ExecRunner) Start(ctx context.Context, spec CommandSpec) (Handle, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrProcessLaunch, "ffmpeg", "stdout pipe", "", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrProcessLaunch, "ffmpeg", "stderr pipe", "", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrProcessLaunch, "ffmpeg", "start", spec.Binary, err)
	}

	h := &execHandle{
		cmd:   cmd,
		lines: make(chan string, 256),
		done:  make(chan struct{}),
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	for _, pipe := range []io.Reader{stdout, stderr} {
		go func(r io.Reader) {
			defer scanners.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			scanner.Split(scanProgressLines)
			for scanner.Scan() {
				if text := scanner.Text(); text != "" {
					h.lines <- text
				}
			}
		}(pipe)
	}

	go func() {
		scanners.Wait()
		close(h.lines)
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	lines   chan string
	done    chan struct{}
	waitErr error
}

func (h *execHandle) Lines() <-chan string { return h.lines }

func (h *execHandle) Pause() error {
	return h.signal(unix.SIGSTOP)
}

func (h *execHandle) Resume() error {
	return h.signal(unix.SIGCONT)
}

func (h *execHandle) Terminate(grace time.Duration) error {
	if err := h.signal(unix.SIGTERM); err != nil {
		return err
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return h.signal(unix.SIGKILL)
	}
}

func (h *execHandle) Wait() error {
	<-h.done
	return h.waitErr
}

func (h *execHandle) signal(sig unix.Signal) error {
	proc := h.cmd.Process
	if proc == nil {
		return services.Wrap(services.ErrProcessExecution, "ffmpeg", "signal", "process not started", nil)
	}
	select {
	case <-h.done:
		// Already exited; signalling is a no-op.
		return nil
	default:
	}
	return unix.Kill(proc.Pid, sig)
}

// scanProgressLines splits on \n or \r so that ffmpeg's carriage-return
// progress updates surface as individual lines.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimRight(data[:i], "\r\n"), nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
