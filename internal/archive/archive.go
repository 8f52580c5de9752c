// Package archive manages the rotating store of historical save files.
//
// Archived copies live in a controller-owned directory, distinct from the
// engine's own save directory, under names encoding capture time, label and
// author. The engine's periodic autosaves stay in the engine save directory
// and are restored from there.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"pkt.systems/pslog"

	"pkt.systems/factorioctl/schema"
)

const (
	// DefaultSaveLabel names archive entries made by a bare save command.
	DefaultSaveLabel schema.SaveLabel = "request_save"
	// BackupLabel and BackupAuthor mark the safety backup taken before a
	// restore overwrites the live save.
	BackupLabel  schema.SaveLabel = "autosave"
	BackupAuthor schema.Username  = "server"

	// AutosaveMarker identifies engine-produced autosaves by filename.
	AutosaveMarker = "_autosave"

	// Named lookups search only this many recent records.
	maxNamedLookup = 100

	// The engine prints its save report within this many lines of the
	// request; the last one carries the success marker.
	confirmWindow = 3
	confirmMarker = "finished"
)

// Lifecycle is the slice of the process supervisor a restore drives.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	WriteLine(line string) error
}

// Console reads server output lines through the controller's single blocking
// point, so a save confirmation window doesn't bypass operator forwarding.
type Console interface {
	ReadServerLine(ctx context.Context) (string, error)
}

// Config wires an Archive to its directories and collaborators.
type Config struct {
	// Dir is the archive directory; created if missing.
	Dir string
	// SavePath is the authoritative save file the engine loads and writes.
	SavePath string
	// EngineSaveDir holds the engine's own saves, autosaves included.
	// Defaults to the directory of SavePath.
	EngineSaveDir string
	// Announce broadcasts a message to the game channel. Optional.
	Announce func(msg string)
	// Grace is the pause between the restore announcement and the server
	// stop. Defaults to one second.
	Grace  time.Duration
	Logger pslog.Logger

	now func() time.Time
}

// Archive rotates save-state copies and restores them over the authoritative
// save path.
type Archive struct {
	cfg       Config
	lifecycle Lifecycle
	console   Console
}

// New constructs an Archive and creates its directory.
func New(cfg Config, lifecycle Lifecycle, console Console) (*Archive, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if strings.TrimSpace(cfg.SavePath) == "" {
		return nil, fmt.Errorf("authoritative save path is required")
	}
	if cfg.EngineSaveDir == "" {
		cfg.EngineSaveDir = filepath.Dir(cfg.SavePath)
	}
	if cfg.Announce == nil {
		cfg.Announce = func(string) {}
	}
	if cfg.Grace == 0 {
		cfg.Grace = time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{cfg: cfg, lifecycle: lifecycle, console: console}, nil
}

// SaveCurrent asks the engine to save, waits for the confirmation window and
// copies the authoritative save into the archive. When the confirmation
// marker never appears nothing is copied and the server is left untouched.
func (a *Archive) SaveCurrent(ctx context.Context, label schema.SaveLabel, author schema.Username) error {
	log := a.log(ctx).With("label", label, "author", author)
	if err := a.lifecycle.WriteLine("/server-save"); err != nil {
		return err
	}
	var last string
	for i := 0; i < confirmWindow; i++ {
		line, err := a.console.ReadServerLine(ctx)
		if err != nil {
			return err
		}
		last = line
	}
	fields := strings.Fields(last)
	if len(fields) == 0 || fields[len(fields)-1] != confirmMarker {
		log.Warn("save not confirmed", "last_line", last)
		return schema.ErrSaveNotConfirmed
	}

	ts := a.cfg.now().Truncate(time.Second)
	dest := filepath.Join(a.cfg.Dir, EncodeName(ts, label, author))
	if err := copyFile(dest, a.cfg.SavePath); err != nil {
		log.Warn("archive copy failed", "err", err)
		return err
	}
	if err := os.Chtimes(dest, ts, ts); err != nil {
		return fmt.Errorf("set archive mtime: %w", err)
	}
	log.Info("save archived", "path", dest)
	return nil
}

// ListRecords returns the archive entries, most recent first.
func (a *Archive) ListRecords() ([]schema.SaveRecord, error) {
	entries, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	type timed struct {
		rec   schema.SaveRecord
		mtime time.Time
	}
	records := make([]timed, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		label, author, ts, ok := DecodeName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		records = append(records, timed{
			rec: schema.SaveRecord{
				Path:      filepath.Join(a.cfg.Dir, entry.Name()),
				Label:     label,
				Author:    author,
				Timestamp: ts,
			},
			mtime: info.ModTime(),
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].mtime.After(records[j].mtime) })
	out := make([]schema.SaveRecord, len(records))
	for i, r := range records {
		out[i] = r.rec
	}
	return out, nil
}

// RestoreAutosave restores the n-th most recent engine autosave; n is
// 1-indexed so n=1 is the newest.
func (a *Archive) RestoreAutosave(ctx context.Context, n int) error {
	if n < 1 {
		return schema.ErrAutosaveOutOfRange
	}
	autosaves, err := a.listAutosaves()
	if err != nil {
		return err
	}
	if n > len(autosaves) {
		return schema.ErrAutosaveOutOfRange
	}
	return a.restore(ctx, autosaves[n-1], fmt.Sprintf("restoring autosave %d", n))
}

// RestoreLatestManual restores the most recent archive entry, skipping the
// safety backups the restore protocol itself produces.
func (a *Archive) RestoreLatestManual(ctx context.Context) error {
	records, err := a.ListRecords()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Label == BackupLabel && rec.Author == BackupAuthor {
			continue
		}
		return a.RestoreRecord(ctx, rec)
	}
	return schema.ErrSaveNotFound
}

// RestoreByName restores the newest archive entry with the given label among
// the most recent records.
func (a *Archive) RestoreByName(ctx context.Context, label schema.SaveLabel) error {
	records, err := a.ListRecords()
	if err != nil {
		return err
	}
	if len(records) > maxNamedLookup {
		records = records[:maxNamedLookup]
	}
	for _, rec := range records {
		if rec.Label == label {
			return a.RestoreRecord(ctx, rec)
		}
	}
	return schema.ErrSaveNotFound
}

// RestoreRecord restores a specific archive entry.
func (a *Archive) RestoreRecord(ctx context.Context, rec schema.SaveRecord) error {
	return a.restore(ctx, rec.Path, fmt.Sprintf("restoring save %s by %s", rec.Label, rec.Author))
}

// restore runs the fixed protocol: safety backup, announce, stop, overwrite
// the authoritative save, start. A failed backup is logged and the restore
// proceeds; nothing has been mutated yet.
func (a *Archive) restore(ctx context.Context, source, announcement string) error {
	log := a.log(ctx).With("source", source)
	if err := a.SaveCurrent(ctx, BackupLabel, BackupAuthor); err != nil {
		log.Warn("safety backup failed", "err", err)
	}
	a.cfg.Announce(announcement)
	time.Sleep(a.cfg.Grace)
	if err := a.lifecycle.Stop(ctx); err != nil {
		return err
	}
	if err := copyFile(a.cfg.SavePath, source); err != nil {
		log.Error("restore copy failed", "err", err)
		return err
	}
	log.Info("save restored")
	return a.lifecycle.Start(ctx)
}

func (a *Archive) listAutosaves() ([]string, error) {
	entries, err := os.ReadDir(a.cfg.EngineSaveDir)
	if err != nil {
		return nil, fmt.Errorf("read engine save dir: %w", err)
	}
	type timed struct {
		path  string
		mtime time.Time
	}
	autosaves := make([]timed, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), AutosaveMarker) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		autosaves = append(autosaves, timed{
			path:  filepath.Join(a.cfg.EngineSaveDir, entry.Name()),
			mtime: info.ModTime(),
		})
	}
	sort.Slice(autosaves, func(i, j int) bool { return autosaves[i].mtime.After(autosaves[j].mtime) })
	out := make([]string, len(autosaves))
	for i, s := range autosaves {
		out[i] = s.path
	}
	return out, nil
}

func (a *Archive) log(ctx context.Context) pslog.Logger {
	if a.cfg.Logger != nil {
		return a.cfg.Logger
	}
	return pslog.Ctx(ctx)
}

// copyFile replaces dst with the content of src via rename, so an interrupted
// copy never leaves a truncated file behind.
func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Cleanup() }()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}
