// Package agent implements the Agent Bridge (spec.md §4.7): supervision of
// a child process that speaks line-delimited JSON over stdin/stdout, in the
// same stdio-transport shape as the teacher's MCP client, generalized from
// request/response JSON-RPC to the fire-and-forget command/event protocol
// described by pkg/types.AgentCommand and pkg/types.AgentEvent.
package agent

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
	"time"

	"github.com/shopspring/decimal"

	"deskbot/internal/bus"
	"deskbot/pkg/types"
)

// decimalFromString parses an agent-supplied numeric string, used for the
// price/qty fields of a place_order event.
func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty decimal string")
	}
	return decimal.NewFromString(s)
}

// commandCapacity bounds the outbound command channel; the bridge drops and
// warns on overflow like every other producer in the core (§5 Backpressure).
const commandCapacity = 64

// tickerThrottle is the minimum interval between ticker_update commands sent
// for the same symbol (§9 "Ticker throttle policy").
const tickerThrottle = 5 * time.Second

// killGrace is how long Close waits for a graceful exit before killing the
// child process, matching the stdio transport's stop().
const killGrace = 5 * time.Second

// Config describes how to launch the agent subprocess.
type Config struct {
	Command string
	Args    []string
	Env     []string
}

// Bridge supervises one agent subprocess for the lifetime of a trading
// session. It is not restarted on exit — a crash is surfaced on the bus as
// AgentExited and the core continues without it (§8 "Agent crash isolation").
type Bridge struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	commands chan types.AgentCommand

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool

	lastSent map[string]time.Time
}

// New creates a Bridge. The subprocess is not started until Start is called.
func New(cfg Config, b *bus.Bus, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		bus:      b,
		logger:   logger,
		commands: make(chan types.AgentCommand, commandCapacity),
		lastSent: make(map[string]time.Time),
	}
}

// Send enqueues an outbound command, applying the ticker throttle for
// ticker_update commands. It never blocks: a full queue drops the command
// and logs a warning, matching the bus's backpressure policy.
func (br *Bridge) Send(cmd types.AgentCommand) {
	if cmd.Type == "ticker_update" {
		if !br.allowTicker(cmd.Pairs) {
			return
		}
	}
	select {
	case br.commands <- cmd:
	default:
		br.logger.Warn("agent command queue full, dropping", "type", cmd.Type)
	}
}

func (br *Bridge) allowTicker(pairs []string) bool {
	if len(pairs) == 0 {
		return true
	}
	symbol := pairs[0]

	br.mu.Lock()
	defer br.mu.Unlock()
	now := time.Now()
	if last, ok := br.lastSent[symbol]; ok && now.Sub(last) < tickerThrottle {
		return false
	}
	br.lastSent[symbol] = now
	return true
}

// Start launches the subprocess and the three supervising goroutines: stdin
// writer, stdout reader, stderr reader, plus a process-exit waiter. It
// returns once the process has started; the writer runs until ctx is
// cancelled or a write fails, the readers until their pipe closes.
func (br *Bridge) Start(ctx context.Context) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	cmd := exec.Command(br.cfg.Command, br.cfg.Args...)
	cmd.Env = append(os.Environ(), br.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create agent stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create agent stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start agent subprocess %s: %w", br.cfg.Command, err)
	}

	br.cmd = cmd
	br.stdin = stdin
	br.started = true

	go br.writeLoop(ctx, stdin)
	go br.readStdout(stdout)
	go br.readStderr(stderr)
	go br.waitExit(cmd)

	br.logger.Info("agent subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// writeLoop drains the command queue onto stdin as newline-delimited JSON
// until ctx is cancelled.
func (br *Bridge) writeLoop(ctx context.Context, stdin io.WriteCloser) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-br.commands:
			data, err := json.Marshal(cmd)
			if err != nil {
				br.logger.Warn("failed to marshal agent command", "error", err)
				continue
			}
			if _, err := stdin.Write(append(data, '\n')); err != nil {
				br.logger.Warn("failed to write agent command", "error", err)
				return
			}
		}
	}
}

// readStdout parses each line as an AgentEvent and forwards it to the bus.
// An unparsable line is treated as raw output rather than dropped, since
// the agent process is free-form text some of the time (§1 "treats it as a
// line-delimited JSON peer over pipes").
func (br *Bridge) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		var ev types.AgentEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			br.bus.TrySendMessage(types.Message{Kind: types.KindAgentOutput, AgentLine: line})
			continue
		}
		br.dispatchEvent(ev, line)
	}
}

func (br *Bridge) dispatchEvent(ev types.AgentEvent, raw string) {
	switch ev.Type {
	case "ready":
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentReady, AgentName: ev.Agent})
	case "output":
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentOutput, AgentName: ev.Agent, AgentLine: ev.Line})
	case "stream_delta":
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentStreamDelta, AgentName: ev.Agent, AgentDelta: ev.Delta})
	case "stream_end":
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentStreamEnd, AgentName: ev.Agent})
	case "token_usage":
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentTokenUsage, InTokens: ev.InputTokens, OutTokens: ev.OutputTokens})
	case "place_order":
		req := types.OrderRequest{Symbol: ev.Symbol, Side: ev.Side, ClOrdID: ev.ClOrdID}
		if p, err := decimalFromString(ev.Price); err == nil {
			req.Price = p
		}
		if q, err := decimalFromString(ev.Qty); err == nil {
			req.Qty = q
		}
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentOrderRequest, OrderReq: req})
	default:
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentOutput, AgentLine: raw})
	}
}

// readStderr forwards stderr lines verbatim to the output panel as raw text
// (§4.7 "Forwards each line to the agent's output panel as raw text").
func (br *Bridge) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		br.bus.TrySendMessage(types.Message{Kind: types.KindAgentOutput, AgentLine: scanner.Text()})
	}
}

func (br *Bridge) waitExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	br.bus.TrySendMessage(types.Message{Kind: types.KindAgentExited, AgentErr: err})
}

// Close terminates the subprocess: closes stdin to request a graceful exit,
// then kills it if it has not exited within killGrace.
func (br *Bridge) Close() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if !br.started || br.cmd == nil || br.cmd.Process == nil {
		return nil
	}

	if br.stdin != nil {
		br.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- br.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(killGrace):
		br.logger.Warn("agent subprocess did not exit gracefully, killing", "pid", br.cmd.Process.Pid)
		_ = br.cmd.Process.Kill()
		<-done
		return nil
	}
}
