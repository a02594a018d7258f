package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/yakr/logging"
)

// ProcessLoader runs each plugin as a child process named after the plugin
// inside Dir. Lines travel newline-delimited over the child's stdin and
// stdout; the child exiting ends its Out queue.
type ProcessLoader struct {
	Dir      string
	Capacity int

	// Grace is how long a child may take to exit after its stdin is closed
	// before it is killed.
	Grace time.Duration

	Logger logging.Logger
}

// NewProcessLoader creates a loader for executables in dir.
func NewProcessLoader(dir string, capacity int, logger logging.Logger) *ProcessLoader {
	if logger == nil {
		logger = logging.Nop
	}
	return &ProcessLoader{
		Dir:      dir,
		Capacity: capacity,
		Grace:    2 * time.Second,
		Logger:   logger.With("component", "process-loader"),
	}
}

// Load starts the plugin executable.
func (p *ProcessLoader) Load(name string) (*Handle, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(p.Dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat plugin %s: %w", name, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("plugin %s is not executable", path)
	}

	cmd := exec.Command(path)
	cmd.Dir = p.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin for %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout for %s: %w", name, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin %s: %w", name, err)
	}

	capacity := p.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	in := make(chan string, capacity)
	out := make(chan string, capacity)
	stopped := make(chan struct{})
	exited := make(chan struct{})

	h := &Handle{Name: name, ID: uuid.NewString(), In: in, Out: out}
	logger := p.Logger.With("plugin", name, "plugin_id", h.ID, "pid", cmd.Process.Pid)

	go p.feed(logger, cmd, stdin, in, stopped, exited)
	go p.collect(logger, cmd, stdout, out, stopped, exited)

	logger.Info("plugin process started", "path", path)
	return h, nil
}

// feed copies In to the child's stdin. When In closes it closes stdin and
// kills the child if it has not exited within the grace period.
func (p *ProcessLoader) feed(logger logging.Logger, cmd *exec.Cmd, stdin io.WriteCloser, in <-chan string, stopped chan<- struct{}, exited <-chan struct{}) {
	defer close(stopped)

	broken := false
	for line := range in {
		if broken {
			continue
		}
		if _, err := io.WriteString(stdin, line+"\n"); err != nil {
			logger.Debug("plugin stdin closed", "error", err)
			broken = true
		}
	}
	stdin.Close()

	select {
	case <-exited:
	case <-time.After(p.Grace):
		logger.Warn("plugin did not exit in time, killing")
		if err := cmd.Process.Kill(); err != nil {
			logger.Warn("failed to kill plugin", "error", err)
		}
	}
}

// collect copies the child's stdout to Out and closes Out once the child
// has exited.
func (p *ProcessLoader) collect(logger logging.Logger, cmd *exec.Cmd, stdout io.Reader, out chan<- string, stopped <-chan struct{}, exited chan<- struct{}) {
	defer close(out)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		select {
		case out <- line:
		case <-stopped:
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read plugin output, killing", "error", err)
		cmd.Process.Kill()
	}

	err := cmd.Wait()
	close(exited)
	if err != nil {
		logger.Info("plugin process exited", "error", err)
		return
	}
	logger.Info("plugin process exited")
}
