package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

const defaultReadyTimeout = 10 * time.Second

var (
	ErrEngineClosed = errors.New("engine closed")
	// ErrEngineBroken marks a handle left in an unknown state by a failed search.
	ErrEngineBroken = errors.New("engine in unknown state")
)

// Position is a start position plus the UCI moves played from it.
type Position struct {
	FEN   string
	Moves []string
}

// Limit bounds one search. Zero fields are unset.
type Limit struct {
	Depth    int
	Nodes    int
	MoveTime time.Duration
}

func (l Limit) IsZero() bool { return l.Depth <= 0 && l.Nodes <= 0 && l.MoveTime <= 0 }

// Halved keeps depth and nodes and halves the time, floored at 20ms.
func (l Limit) Halved() Limit {
	if l.MoveTime > 0 {
		l.MoveTime = max(20*time.Millisecond, l.MoveTime/2)
	}
	return l
}

// Process is one running UCI engine.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	name  string
	opts  Options

	mu       sync.Mutex
	search   sync.Mutex
	closed   bool
	broken   bool
	done     chan struct{}
	readDone chan struct{}
}

func startProcess(ctx context.Context, path string, args, env []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &Process{
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string, 256),
		opts:     make(Options),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go p.readLoop(stdoutPipe)
	return p, nil
}

// readLoop drains stdout until EOF; lines read after Close are dropped.
func (p *Process) readLoop(r io.Reader) {
	defer close(p.readDone)
	defer close(p.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		select {
		case p.lines <- strings.TrimSpace(sc.Text()):
		case <-p.done:
		}
	}
}

// handshake runs uci/uciok and records the advertised options.
func (p *Process) handshake(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := p.send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	for {
		line, err := p.readLine(initCtx)
		if err != nil {
			return fmt.Errorf("wait uciok: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "id name "):
			p.name = strings.TrimSpace(strings.TrimPrefix(line, "id name "))
		case strings.HasPrefix(line, "option "):
			if spec, ok := parseOption(line); ok {
				p.opts.add(spec)
			}
		case line == "uciok":
			return nil
		}
	}
}

// EnsureReady pings the engine.
func (p *Process) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := p.send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// SetOption sends setoption; a valueless call is for button options.
func (p *Process) SetOption(name, value string) error {
	if value == "" {
		return p.send("setoption name " + name)
	}
	return p.send("setoption name " + name + " value " + value)
}

func (p *Process) Options() Options { return p.opts }

func (p *Process) Name() string { return p.name }

// Search sends position and go, then collects info until bestmove.
func (p *Process) Search(ctx context.Context, pos Position, lim Limit) (Result, error) {
	p.search.Lock()
	defer p.search.Unlock()

	p.mu.Lock()
	broken, closed := p.broken, p.closed
	p.mu.Unlock()
	if closed {
		return Result{}, ErrEngineClosed
	}
	if broken {
		return Result{}, ErrEngineBroken
	}

	if err := p.send(buildPositionCommand(pos)); err != nil {
		return Result{}, fmt.Errorf("send position: %w", err)
	}
	goCmd, err := buildGoCommand(lim)
	if err != nil {
		return Result{}, err
	}
	if err := p.send(goCmd); err != nil {
		return Result{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(lim))
	defer cancel()

	var info Info
	for {
		line, err := p.readLine(searchCtx)
		if err != nil {
			p.markBroken()
			obslog.For(ctx).Warn("engine_read_failed",
				zap.String("go", goCmd),
				zap.Int("moves", len(pos.Moves)),
				zap.Error(err),
			)
			return Result{}, fmt.Errorf("read line: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "info "):
			parseInfo(line, &info)
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			res := Result{Info: info}
			if len(parts) >= 2 && parts[1] != "(none)" && parts[1] != "0000" {
				res.Move = parts[1]
			}
			if len(parts) >= 4 && parts[2] == "ponder" {
				res.Ponder = parts[3]
			}
			return res, nil
		}
	}
}

func (p *Process) markBroken() {
	p.mu.Lock()
	p.broken = true
	p.mu.Unlock()
}

// Close quits the engine, killing it if it does not exit promptly.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	_, _ = io.WriteString(p.stdin, "quit\n")
	_ = p.stdin.Close()

	select {
	case <-p.readDone:
	case <-time.After(2 * time.Second):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.readDone
	}
	return ignoreExit(p.cmd.Wait())
}

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (p *Process) send(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrEngineClosed
	}
	_, err := io.WriteString(p.stdin, msg+"\n")
	return err
}

func (p *Process) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (p *Process) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func buildPositionCommand(pos Position) string {
	var sb strings.Builder
	fen := strings.TrimSpace(pos.FEN)
	if fen == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(pos.Moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(pos.Moves, " "))
	}
	return sb.String()
}

func buildGoCommand(l Limit) (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTime > 0 {
		args = append(args, "movetime", strconv.FormatInt(max(1, l.MoveTime.Milliseconds()), 10))
	}
	if l.Nodes > 0 {
		args = append(args, "nodes", strconv.Itoa(l.Nodes))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " "), nil
}

func computeSearchTimeout(l Limit) time.Duration {
	if l.MoveTime > 0 {
		return l.MoveTime + l.MoveTime/2 + 3*time.Second
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}
