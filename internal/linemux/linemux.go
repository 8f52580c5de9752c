// Package linemux interleaves operator console input with server console
// output. It is the single blocking point of the controller: every wait for
// the next line, including the nested waits of the interactive save browser,
// goes through Cycle.
package linemux

import (
	"bufio"
	"context"
	"io"

	"pkt.systems/pslog"

	"pkt.systems/factorioctl/schema"
)

// Server is the slice of the process supervisor the multiplexer needs.
type Server interface {
	WriteLine(line string) error
	Lines() <-chan string
	Done() <-chan struct{}
}

// Mux forwards operator lines to the server verbatim and echoes server lines
// to the console.
type Mux struct {
	server   Server
	operator <-chan string
	echo     func(line string)
	log      pslog.Logger
}

// New constructs a multiplexer. echo is invoked for every server output line
// before it is handed to the caller.
func New(server Server, operator <-chan string, echo func(line string), logger pslog.Logger) *Mux {
	if echo == nil {
		echo = func(string) {}
	}
	return &Mux{server: server, operator: operator, echo: echo, log: logger}
}

// OperatorLines reads r line by line into a channel suitable for New. The
// channel is closed when r is exhausted.
func OperatorLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

// Cycle blocks until a line arrives on either stream. An operator line is
// forwarded to the server untouched; a server line is echoed and returned
// with ok=true. When both streams are ready, both are drained in the same
// wakeup. Returns schema.ErrServerExited once the child is gone and its
// output is drained.
func (m *Mux) Cycle(ctx context.Context) (line string, ok bool, err error) {
	// Pending server output has priority over the exit notification so no
	// trailing lines are lost.
	select {
	case out := <-m.server.Lines():
		m.forwardPendingOperator()
		m.echo(out)
		return out, true, nil
	default:
	}

	select {
	case op, open := <-m.operator:
		if !open {
			m.operator = nil
			return "", false, nil
		}
		if err := m.server.WriteLine(op); err != nil {
			if m.log != nil {
				m.log.Warn("operator line dropped", "err", err)
			}
		}
		select {
		case out := <-m.server.Lines():
			m.echo(out)
			return out, true, nil
		default:
		}
		return "", false, nil
	case out := <-m.server.Lines():
		m.forwardPendingOperator()
		m.echo(out)
		return out, true, nil
	case <-m.server.Done():
		return "", false, schema.ErrServerExited
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (m *Mux) forwardPendingOperator() {
	select {
	case op, open := <-m.operator:
		if !open {
			m.operator = nil
			return
		}
		if err := m.server.WriteLine(op); err != nil && m.log != nil {
			m.log.Warn("operator line dropped", "err", err)
		}
	default:
	}
}

// ReadServerLine cycles until a server line is produced. Used by callers that
// need a single read-and-dispatch step, such as the save browser and the
// save-confirmation window.
func (m *Mux) ReadServerLine(ctx context.Context) (string, error) {
	for {
		line, ok, err := m.Cycle(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}
	}
}
