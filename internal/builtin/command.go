package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	logx "cronhost/pkg/logx"
)

// outputTail is how much combined output is kept for error reports.
const outputTail = 4096

var ErrEmptyCommand = errors.New("empty command")

type CommandConfig struct {
	Name    string
	Command string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Command runs one external program per invocation.
type Command struct {
	name    string
	argv    []string
	dir     string
	env     []string
	timeout time.Duration
	log     logx.Logger
}

// NewCommand splits cfg.Command with POSIX shell quoting rules. No shell is
// involved at run time.
func NewCommand(cfg CommandConfig, log logx.Logger) (*Command, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cfg.Name, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command %s: %w", cfg.Name, ErrEmptyCommand)
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	return &Command{
		name:    cfg.Name,
		argv:    argv,
		dir:     cfg.Dir,
		env:     env,
		timeout: cfg.Timeout,
		log:     log.With(logx.String("comp", "builtin.command"), logx.String("job", cfg.Name)),
	}, nil
}

func (c *Command) Argv() []string { return append([]string(nil), c.argv...) }

// Run executes the program. The host name is exported as CRONHOST_HOST and
// the job name as CRONHOST_JOB.
func (c *Command) Run(ctx context.Context, host string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Env = append(cmd.Env, "CRONHOST_HOST="+host, "CRONHOST_JOB="+c.name)
	out := &tailBuffer{max: outputTail}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		if tail := strings.TrimSpace(out.String()); tail != "" {
			return fmt.Errorf("%s: %w\n%s", c.argv[0], err, tail)
		}
		return fmt.Errorf("%s: %w", c.argv[0], err)
	}
	c.log.Debug("command finished", logx.String("cmd", shellquote.Join(c.argv...)), logx.Duration("took", took), logx.Int("output_bytes", out.total))
	return nil
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	buf   []byte
	total int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += len(p)
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
