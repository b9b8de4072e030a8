package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// StdioConnector manages a child process speaking line-delimited
// JSON-RPC over stdin/stdout, grounded on the spawn-and-pipe idiom
// common to MCP stdio clients: one process per upstream, kept running
// for the lifetime of the connection rather than respawned per call.
type StdioConnector struct {
	*base
	cfg config.Upstream

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
}

// NewStdio builds a stdio connector for cfg. cfg.Transport must be
// config.TransportStdio.
func NewStdio(cfg config.Upstream, logger *slog.Logger) *StdioConnector {
	return &StdioConnector{base: newBase(cfg.Name, logger), cfg: cfg}
}

func (c *StdioConnector) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Cwd
	if len(c.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range c.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: stdin pipe: %w", c.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: stdout pipe: %w", c.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: stderr pipe: %w", c.name, err)
	}

	if err := cmd.Start(); err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("upstream %s: start %s: %w", c.name, c.cfg.Command, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()

	go c.drainStderr(stderr)

	t := &stdioFrame{
		conn:    c,
		stdout:  bufio.NewReaderSize(stdout, 64*1024),
		inCh:    make(chan inboundMessage, 16),
		closeCh: make(chan struct{}),
	}
	go t.readLoop()

	c.attach(t)
	if err := performHandshake(ctx, c.base); err != nil {
		c.setStatus(StatusError)
		_ = c.cmd.Process.Kill()
		return err
	}
	return nil
}

func (c *StdioConnector) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Debug("upstream stderr", "upstream", c.name, "line", scanner.Text())
	}
}

func (c *StdioConnector) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params)
}

func (c *StdioConnector) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params)
}

func (c *StdioConnector) Close() error {
	err := c.close()
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return err
}

// stdioFrame implements frame over a child process's stdio pipes:
// each write appends a trailing newline, each read consumes one line.
type stdioFrame struct {
	conn    *StdioConnector
	stdout  *bufio.Reader
	inCh    chan inboundMessage
	closeCh chan struct{}
	once    sync.Once
}

func (f *stdioFrame) writeMessage(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	f.conn.writeMu.Lock()
	defer f.conn.writeMu.Unlock()
	_, err = f.conn.stdin.Write(b)
	return err
}

func (f *stdioFrame) inbound() <-chan inboundMessage { return f.inCh }

func (f *stdioFrame) readLoop() {
	defer close(f.inCh)
	for {
		line, err := f.stdout.ReadString('\n')
		if err != nil {
			if len(line) > 0 {
				f.decodeAndSend(line)
			}
			select {
			case f.inCh <- inboundMessage{err: err}:
			case <-f.closeCh:
			}
			return
		}
		f.decodeAndSend(line)
	}
}

func (f *stdioFrame) decodeAndSend(line string) {
	var env jsonrpc.Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		f.conn.logger.Warn("discarding malformed line from upstream", "upstream", f.conn.name, "error", err)
		return
	}
	select {
	case f.inCh <- inboundMessage{envelope: &env}:
	case <-f.closeCh:
	}
}

func (f *stdioFrame) closeTransport() error {
	f.once.Do(func() { close(f.closeCh) })
	return f.conn.stdin.Close()
}
