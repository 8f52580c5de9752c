package linemux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pkt.systems/factorioctl/schema"
)

type fakeServer struct {
	lines chan string
	done  chan struct{}
	stdin []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
}

func (f *fakeServer) WriteLine(line string) error {
	f.stdin = append(f.stdin, line)
	return nil
}

func (f *fakeServer) Lines() <-chan string  { return f.lines }
func (f *fakeServer) Done() <-chan struct{} { return f.done }

func TestCycleForwardsOperatorLine(t *testing.T) {
	server := newFakeServer()
	operator := make(chan string, 1)
	mux := New(server, operator, nil, nil)

	operator <- "/time"
	line, ok, err := mux.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if ok || line != "" {
		t.Fatalf("expected no server line, got %q", line)
	}
	if len(server.stdin) != 1 || server.stdin[0] != "/time" {
		t.Fatalf("expected verbatim forward, got %v", server.stdin)
	}
}

func TestCycleEchoesAndReturnsServerLine(t *testing.T) {
	server := newFakeServer()
	var echoed []string
	mux := New(server, make(chan string), func(line string) { echoed = append(echoed, line) }, nil)

	server.lines <- "451.1 Info: autosave finished"
	line, ok, err := mux.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !ok || line != "451.1 Info: autosave finished" {
		t.Fatalf("unexpected line %q ok=%v", line, ok)
	}
	if len(echoed) != 1 || echoed[0] != line {
		t.Fatalf("expected echo of server line, got %v", echoed)
	}
}

func TestCycleDrainsBothWhenBothReady(t *testing.T) {
	server := newFakeServer()
	operator := make(chan string, 1)
	mux := New(server, operator, nil, nil)

	operator <- "hello from operator"
	server.lines <- "hello from server"
	line, ok, err := mux.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !ok || line != "hello from server" {
		t.Fatalf("expected server line, got %q ok=%v", line, ok)
	}
	if len(server.stdin) != 1 || server.stdin[0] != "hello from operator" {
		t.Fatalf("expected operator line forwarded in same wakeup, got %v", server.stdin)
	}
}

func TestCycleReportsServerExit(t *testing.T) {
	server := newFakeServer()
	mux := New(server, make(chan string), nil, nil)
	close(server.done)
	if _, _, err := mux.Cycle(context.Background()); !errors.Is(err, schema.ErrServerExited) {
		t.Fatalf("expected ErrServerExited, got %v", err)
	}
}

func TestCycleDrainsOutputBeforeExit(t *testing.T) {
	server := newFakeServer()
	mux := New(server, make(chan string), nil, nil)
	server.lines <- "goodbye"
	close(server.done)
	line, ok, err := mux.Cycle(context.Background())
	if err != nil || !ok || line != "goodbye" {
		t.Fatalf("expected trailing line before exit, got %q ok=%v err=%v", line, ok, err)
	}
	if _, _, err := mux.Cycle(context.Background()); !errors.Is(err, schema.ErrServerExited) {
		t.Fatalf("expected ErrServerExited after drain, got %v", err)
	}
}

func TestReadServerLineSkipsOperatorTraffic(t *testing.T) {
	server := newFakeServer()
	operator := make(chan string, 2)
	mux := New(server, operator, nil, nil)

	operator <- "first"
	operator <- "second"
	go func() {
		time.Sleep(20 * time.Millisecond)
		server.lines <- "server speaks"
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	line, err := mux.ReadServerLine(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "server speaks" {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Join(server.stdin, ",") != "first,second" {
		t.Fatalf("expected operator lines forwarded, got %v", server.stdin)
	}
}

func TestOperatorLines(t *testing.T) {
	ch := OperatorLines(strings.NewReader("one\ntwo\n"))
	if got := <-ch; got != "one" {
		t.Fatalf("expected one, got %q", got)
	}
	if got := <-ch; got != "two" {
		t.Fatalf("expected two, got %q", got)
	}
	if _, open := <-ch; open {
		t.Fatalf("expected closed channel at EOF")
	}
}
