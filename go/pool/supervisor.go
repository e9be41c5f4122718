package pool

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Names of the FIFOs under <childroot>/pipe/. The command FIFO carries
// newline-delimited ASCII from the parent to the supervisor; the notify
// FIFO carries opaque events back for the admin collaborator.
const (
	PipeDir         = "pipe"
	CommandFIFO     = "loolwsd"
	AdminNotifyFIFO = "admin-notify"
)

// SupervisorOptions configure the forking supervisor child process.
type SupervisorOptions struct {
	SysTemplate string
	LoTemplate  string
	ChildRoot   string
	LoSubPath   string
	CacheDir    string
	ClientPort  int
}

// Supervisor owns the forking supervisor process and the one-way command
// pipe to it. The supervisor creates jailed worker processes on demand;
// each worker announces itself back over the internal endpoint.
type Supervisor struct {
	cmd    *exec.Cmd
	exitCh chan error

	mu   sync.Mutex
	pipe io.WriteCloser
}

// EnsureFIFOs creates <childroot>/pipe and both named FIFOs, mode 0666,
// tolerating pre-existing ones.
func EnsureFIFOs(childRoot string) error {
	var dir = filepath.Join(childRoot, PipeDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating pipe directory %s: %w", dir, err)
	}
	for _, name := range []string{CommandFIFO, AdminNotifyFIFO} {
		var path = filepath.Join(dir, name)
		if err := unix.Mkfifo(path, 0666); err != nil && err != unix.EEXIST {
			return fmt.Errorf("creating FIFO %s: %w", path, err)
		}
	}
	return nil
}

// Launch starts the forking supervisor binary. Its exit is reaped by a
// background goroutine and observed through Poll.
func Launch(bin string, opts SupervisorOptions) (*Supervisor, error) {
	var cmd = exec.Command(bin,
		"--losubpath="+opts.LoSubPath,
		"--systemplate="+opts.SysTemplate,
		"--lotemplate="+opts.LoTemplate,
		"--childroot="+opts.ChildRoot,
		"--clientport="+strconv.Itoa(opts.ClientPort),
	)
	if opts.CacheDir != "" {
		cmd.Args = append(cmd.Args, "--cachedir="+opts.CacheDir)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting supervisor: %w", err)
	}
	log.WithFields(log.Fields{"args": cmd.Args, "pid": cmd.Process.Pid}).
		Info("launched forking supervisor")

	var s = &Supervisor{cmd: cmd, exitCh: make(chan error, 1)}
	go func() { s.exitCh <- cmd.Wait() }()
	return s, nil
}

// OpenCommandPipe opens the write end of the command FIFO. It blocks until
// the supervisor opens the read end, so call it only after the supervisor
// is running.
func (s *Supervisor) OpenCommandPipe(childRoot string) error {
	var path = filepath.Join(childRoot, PipeDir, CommandFIFO)
	var f, err = os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening command FIFO %s: %w", path, err)
	}

	s.mu.Lock()
	s.pipe = f
	s.mu.Unlock()
	return nil
}

// SetCommandPipe substitutes the command writer. Tests use it to observe
// the command stream without a FIFO.
func (s *Supervisor) SetCommandPipe(w io.WriteCloser) {
	s.mu.Lock()
	s.pipe = w
	s.mu.Unlock()
}

func (s *Supervisor) writeCommand(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipe == nil {
		return fmt.Errorf("command pipe is not open")
	}
	var _, err = io.WriteString(s.pipe, cmd)
	return err
}

// Spawn asks the supervisor to fork n new workers.
func (s *Supervisor) Spawn(n int) error {
	log.WithField("count", n).Debug("supervisor command: spawn")
	return s.writeCommand(fmt.Sprintf("spawn %d\n", n))
}

// SendEOF tells the supervisor to wind down. Issued during shutdown.
func (s *Supervisor) SendEOF() error {
	return s.writeCommand("eof\n")
}

// Poll non-blockingly reports whether the supervisor has exited, and with
// what error, if so.
func (s *Supervisor) Poll() (bool, error) {
	select {
	case err := <-s.exitCh:
		return true, err
	default:
		return false, nil
	}
}

// PID of the supervisor process, or -1 if it was never started.
func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// Stop TERMs the supervisor and waits for it to be reaped. A supervisor
// that already exited is not an error.
func (s *Supervisor) Stop() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		log.WithField("err", err).Warn("failed to signal supervisor")
	}
	var err = <-s.exitCh
	s.exitCh <- err // Keep Poll observable.

	s.mu.Lock()
	if s.pipe != nil {
		_ = s.pipe.Close()
		s.pipe = nil
	}
	s.mu.Unlock()
	return nil
}
