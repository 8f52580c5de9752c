package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/factorioctl/schema"
)

type fakeServer struct {
	stdin    []string
	restarts int
	stops    int
}

func (f *fakeServer) Restart(context.Context) error { f.restarts++; return nil }
func (f *fakeServer) Stop(context.Context) error    { f.stops++; return nil }
func (f *fakeServer) WriteLine(line string) error {
	f.stdin = append(f.stdin, line)
	return nil
}

type savedCall struct {
	label  schema.SaveLabel
	author schema.Username
}

type fakeSaves struct {
	records     []schema.SaveRecord
	saved       []savedCall
	saveErr     error
	restoredN   []int
	restoreErr  error
	latest      int
	named       []schema.SaveLabel
	namedErr    error
	restoredRec []schema.SaveRecord
}

func (f *fakeSaves) SaveCurrent(_ context.Context, label schema.SaveLabel, author schema.Username) error {
	f.saved = append(f.saved, savedCall{label, author})
	return f.saveErr
}

func (f *fakeSaves) ListRecords() ([]schema.SaveRecord, error) { return f.records, nil }

func (f *fakeSaves) RestoreAutosave(_ context.Context, n int) error {
	f.restoredN = append(f.restoredN, n)
	return f.restoreErr
}

func (f *fakeSaves) RestoreLatestManual(context.Context) error {
	f.latest++
	return f.restoreErr
}

func (f *fakeSaves) RestoreByName(_ context.Context, label schema.SaveLabel) error {
	f.named = append(f.named, label)
	return f.namedErr
}

func (f *fakeSaves) RestoreRecord(_ context.Context, rec schema.SaveRecord) error {
	f.restoredRec = append(f.restoredRec, rec)
	return nil
}

type fakeConsole struct {
	lines []string
}

func (f *fakeConsole) ReadServerLine(context.Context) (string, error) {
	if len(f.lines) == 0 {
		return "", fmt.Errorf("console exhausted")
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func chatLine(user, msg string) string {
	return fmt.Sprintf("2024-01-15 10:00:00 [CHAT] %s %s", user, msg)
}

func chatEvent(user, msg string) schema.ChatEvent {
	return schema.ChatEvent{
		Date:     "2024-01-15",
		Time:     "10:00:00",
		Kind:     schema.KindChat,
		Username: schema.Username(user),
		Message:  msg,
	}
}

func newDispatcher(server *fakeServer, saves *fakeSaves, console *fakeConsole) *Dispatcher {
	return New(server, saves, console, Config{Grace: time.Millisecond})
}

func TestHandleIgnoresNonChatKinds(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{}
	d := newDispatcher(server, saves, &fakeConsole{})
	ev := chatEvent("alice", "!!restart")
	ev.Kind = schema.KindJoin
	require.NoError(t, d.Handle(context.Background(), ev))
	require.Zero(t, server.restarts)
	require.Empty(t, server.stdin)
}

func TestHandleIgnoresUnknownVerb(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{}
	d := newDispatcher(server, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!foobar")))
	require.Empty(t, server.stdin)
	require.Zero(t, server.restarts+server.stops)
	require.Empty(t, saves.saved)
}

func TestHandleRestart(t *testing.T) {
	server := &fakeServer{}
	d := newDispatcher(server, &fakeSaves{}, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!restart")))
	require.Equal(t, 1, server.restarts)
	require.Len(t, server.stdin, 1)
	require.Contains(t, server.stdin[0], "Restarting")
}

func TestHandleShutdownDoesNotRestart(t *testing.T) {
	server := &fakeServer{}
	d := newDispatcher(server, &fakeSaves{}, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!shutdown")))
	require.Equal(t, 1, server.stops)
	require.Zero(t, server.restarts)
}

func TestHandleLoadAutosave(t *testing.T) {
	saves := &fakeSaves{}
	d := newDispatcher(&fakeServer{}, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!la")))
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!la 2")))
	require.Equal(t, []int{1, 2}, saves.restoredN)
}

func TestHandleLoadAutosaveNonNumericIgnored(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{}
	d := newDispatcher(server, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!la soon")))
	require.Empty(t, saves.restoredN)
	require.Empty(t, server.stdin)
}

func TestHandleLoadAutosaveOutOfRangeNotifies(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{restoreErr: schema.ErrAutosaveOutOfRange}
	d := newDispatcher(server, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!la 9")))
	require.Contains(t, strings.Join(server.stdin, "\n"), "no autosave 9")
}

func TestHandleSaveLabels(t *testing.T) {
	saves := &fakeSaves{}
	d := newDispatcher(&fakeServer{}, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!save")))
	require.NoError(t, d.Handle(context.Background(), chatEvent("bob", "!!save backup1 extra tokens")))
	require.Equal(t, []savedCall{
		{"request_save", "alice"},
		{"backup1", "bob"},
	}, saves.saved)
}

func TestHandleSaveNotConfirmedIsNotFatal(t *testing.T) {
	saves := &fakeSaves{saveErr: schema.ErrSaveNotConfirmed}
	d := newDispatcher(&fakeServer{}, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!save")))
}

func TestHandleHelpWhispersToIssuer(t *testing.T) {
	server := &fakeServer{}
	d := newDispatcher(server, &fakeSaves{}, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!help")))
	require.NotEmpty(t, server.stdin)
	for _, line := range server.stdin {
		require.True(t, strings.HasPrefix(line, "/whisper alice "), "expected whisper, got %q", line)
	}
}

func TestHandleLoadLastSave(t *testing.T) {
	saves := &fakeSaves{}
	d := newDispatcher(&fakeServer{}, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls")))
	require.Equal(t, 1, saves.latest)
}

func TestHandleLoadNamedSave(t *testing.T) {
	saves := &fakeSaves{}
	d := newDispatcher(&fakeServer{}, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls backup1")))
	require.Equal(t, []schema.SaveLabel{"backup1"}, saves.named)
}

func TestHandleLoadNamedSaveNotFoundNotifies(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{namedErr: schema.ErrSaveNotFound}
	d := newDispatcher(server, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls missing")))
	require.Contains(t, strings.Join(server.stdin, "\n"), "not found")
}

func browserRecords(n int) []schema.SaveRecord {
	records := make([]schema.SaveRecord, n)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	for i := range records {
		records[i] = schema.SaveRecord{
			Path:      fmt.Sprintf("/archive/save%d", i),
			Label:     schema.SaveLabel(fmt.Sprintf("save%d", i)),
			Author:    "alice",
			Timestamp: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return records
}

func TestBrowserQuitRestoresNothing(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{records: browserRecords(3)}
	console := &fakeConsole{lines: []string{
		"ignored engine diagnostics",
		chatLine("alice", "q"),
	}}
	d := newDispatcher(server, saves, console)
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	require.Empty(t, saves.restoredRec)
}

func TestBrowserSelectsRecordOnPage(t *testing.T) {
	saves := &fakeSaves{records: browserRecords(7)}
	console := &fakeConsole{lines: []string{
		chatLine("alice", "m"),
		chatLine("alice", "2"),
	}}
	d := newDispatcher(&fakeServer{}, saves, console)
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	require.Len(t, saves.restoredRec, 1)
	require.Equal(t, schema.SaveLabel("save6"), saves.restoredRec[0].Label)
}

func TestBrowserBoundariesAreIdempotent(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{records: browserRecords(7)}
	console := &fakeConsole{lines: []string{
		chatLine("alice", "n"), // already on first page
		chatLine("alice", "m"),
		chatLine("alice", "m"), // already on last page
		chatLine("alice", "1"),
	}}
	d := newDispatcher(server, saves, console)
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	joined := strings.Join(server.stdin, "\n")
	require.Contains(t, joined, "this is the first page")
	require.Contains(t, joined, "this is the last page")
	require.Len(t, saves.restoredRec, 1)
	require.Equal(t, schema.SaveLabel("save5"), saves.restoredRec[0].Label)
}

func TestBrowserRejectsSelectionOutsidePage(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{records: browserRecords(12)}
	console := &fakeConsole{lines: []string{
		chatLine("alice", "m"),
		chatLine("alice", "m"),
		chatLine("alice", "3"), // last page holds entries 11-12 only
		chatLine("alice", "q"),
	}}
	d := newDispatcher(server, saves, console)
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	require.Empty(t, saves.restoredRec)
	joined := strings.Join(server.stdin, "\n")
	require.Contains(t, joined, "invalid file number")

	// The last rendered page holds only the two remaining entries.
	lastRender := joined[strings.LastIndex(joined, "1: "):]
	require.Contains(t, lastRender, "2: ")
	require.NotContains(t, lastRender, "3: ")
}

func TestBrowserUnknownInputReprompts(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{records: browserRecords(3)}
	console := &fakeConsole{lines: []string{
		chatLine("alice", "what is this"),
		chatLine("alice", "q"),
	}}
	d := newDispatcher(server, saves, console)
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	joined := strings.Join(server.stdin, "\n")
	require.Contains(t, joined, "save recover mode")
}

func TestBrowserEmptyArchive(t *testing.T) {
	server := &fakeServer{}
	saves := &fakeSaves{}
	d := newDispatcher(server, saves, &fakeConsole{})
	require.NoError(t, d.Handle(context.Background(), chatEvent("alice", "!!ls ?")))
	require.Contains(t, strings.Join(server.stdin, "\n"), "no archived saves")
}
