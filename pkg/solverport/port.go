package solverport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/sirupsen/logrus"
)

// Config configures the solver subprocess.
type Config struct {
	BinaryPath        string
	SolveTimeout      time.Duration
	MonteCarloTimeout time.Duration
}

// Port owns one solver subprocess and serializes requests to it: only one
// request is outstanding at a time, matching the teacher's single
// outstanding-command-per-subprocess discipline in its MCP stdio
// transport. A crash during a request surfaces as apperr.SolverCrashed;
// the next call to Solve respawns the process rather than requiring the
// caller to manage the subprocess lifecycle.
type Port struct {
	cfg Config
	log *logrus.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	in   io.WriteCloser
	out  *bufio.Reader
}

// New builds a Port. The subprocess is not started until the first call.
func New(cfg Config, log *logrus.Logger) *Port {
	return &Port{cfg: cfg, log: log}
}

func (p *Port) ensureStarted() error {
	if p.cmd != nil {
		return nil
	}
	cmd := exec.Command(p.cfg.BinaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &apperr.ScannerUnavailable{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &apperr.ScannerUnavailable{Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &apperr.SolverCrashed{Err: err}
	}

	p.cmd = cmd
	p.in = stdin
	p.out = bufio.NewReader(stdout)
	p.log.Info("solver subprocess started")
	return nil
}

func (p *Port) respawn() {
	if p.cmd != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	p.cmd = nil
	p.in = nil
	p.out = nil
}

// Solve sends a CmdSolve request and blocks for a response, bounded by
// cfg.SolveTimeout (default 5s per §5). A timeout returns
// apperr.SolverTimeout without killing the subprocess; a transport-level
// failure returns apperr.SolverCrashed and marks the subprocess for
// respawn on the next call.
func (p *Port) Solve(ctx context.Context, req Request) (Response, error) {
	req.Command = CmdSolve
	return p.call(ctx, req, p.cfg.SolveTimeout)
}

// MonteCarlo sends a CmdMonteCarlo request, bounded by
// cfg.MonteCarloTimeout (default 30s per §5).
func (p *Port) MonteCarlo(ctx context.Context, req Request) (Response, error) {
	req.Command = CmdMonteCarlo
	return p.call(ctx, req, p.cfg.MonteCarloTimeout)
}

func (p *Port) call(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(); err != nil {
		return Response{}, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)

	go func() {
		payload := encodeRequest(req)
		if err := writeFrame(p.in, payload); err != nil {
			done <- result{err: &apperr.SolverCrashed{Err: err}}
			return
		}
		raw, err := readFrame(p.out)
		if err != nil {
			done <- result{err: &apperr.SolverCrashed{Err: err}}
			return
		}
		resp, err := decodeResponse(raw, req.Command, len(req.Penalties), len(req.Bounds))
		if err != nil {
			done <- result{err: &apperr.SolverCrashed{Err: err}}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case <-ctx.Done():
		phase := "solve"
		if req.Command == CmdMonteCarlo {
			phase = "monte_carlo"
		}
		return Response{}, &apperr.SolverTimeout{Phase: phase}
	case r := <-done:
		if r.err != nil {
			p.log.WithError(r.err).Warn("solver transport failure, will respawn on next call")
			p.respawn()
			return Response{}, r.err
		}
		if r.resp.Status == StatusInfeasible {
			return r.resp, &apperr.SolverInfeasible{ProductGroup: req.ProductGroup}
		}
		if r.resp.Status == StatusError {
			return r.resp, fmt.Errorf("solver reported error: %s", r.resp.ErrorMsg)
		}
		return r.resp, nil
	}
}

// Close terminates the subprocess if running.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respawn()
}
