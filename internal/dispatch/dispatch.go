// Package dispatch interprets chat events as administrative commands and
// drives the supervisor and the save archive accordingly. Commands run to
// completion, restore cycles included, before the next console line is read;
// there is never more than one command in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/factorioctl/internal/archive"
	"pkt.systems/factorioctl/internal/chatlog"
	"pkt.systems/factorioctl/schema"
)

// Server is the slice of the process supervisor commands drive.
type Server interface {
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	WriteLine(line string) error
}

// Saves is the archive surface commands operate on.
type Saves interface {
	SaveCurrent(ctx context.Context, label schema.SaveLabel, author schema.Username) error
	ListRecords() ([]schema.SaveRecord, error)
	RestoreAutosave(ctx context.Context, n int) error
	RestoreLatestManual(ctx context.Context) error
	RestoreByName(ctx context.Context, label schema.SaveLabel) error
	RestoreRecord(ctx context.Context, rec schema.SaveRecord) error
}

// Console reads server output lines through the controller's blocking point;
// the save browser nests on it.
type Console interface {
	ReadServerLine(ctx context.Context) (string, error)
}

// Config tunes dispatcher behavior.
type Config struct {
	// Grace is the pause between announcing a restart or shutdown and
	// delivering it, so players see the notice. Defaults to one second.
	Grace  time.Duration
	Logger pslog.Logger
}

// Dispatcher routes chat commands to their effects.
type Dispatcher struct {
	server  Server
	saves   Saves
	console Console
	cfg     Config
}

// New constructs a dispatcher.
func New(server Server, saves Saves, console Console, cfg Config) *Dispatcher {
	if cfg.Grace == 0 {
		cfg.Grace = time.Second
	}
	return &Dispatcher{server: server, saves: saves, console: console, cfg: cfg}
}

// Handle executes the command carried by ev, if any. Unknown verbs and
// malformed arguments are ignored without feedback. The returned error is
// reserved for process-lifecycle failures; everything recoverable is
// reported to the channel and swallowed here.
func (d *Dispatcher) Handle(ctx context.Context, ev schema.ChatEvent) error {
	if ev.Kind != schema.KindChat {
		return nil
	}
	cmd, ok := chatlog.ParseCommand(ev.Message)
	if !ok {
		return nil
	}
	log := d.log(ctx).With("verb", cmd.Verb, "user", ev.Username)
	switch cmd.Verb {
	case "restart":
		log.Info("command restart")
		d.broadcast("Received restart signal. Restarting the server...")
		time.Sleep(d.cfg.Grace)
		return d.server.Restart(ctx)
	case "shutdown":
		log.Info("command shutdown")
		d.broadcast("Received shutdown signal. Shutting down the server...")
		time.Sleep(d.cfg.Grace)
		return d.server.Stop(ctx)
	case "la":
		n := 1
		if len(cmd.Args) > 0 {
			parsed, err := strconv.Atoi(cmd.Args[0])
			if err != nil {
				log.Debug("command la ignored", "arg", cmd.Args[0])
				return nil
			}
			n = parsed
		}
		log.Info("command load autosave", "index", n)
		d.broadcast("Received load_autosave signal. Loading autosave...")
		err := d.saves.RestoreAutosave(ctx, n)
		if errors.Is(err, schema.ErrAutosaveOutOfRange) {
			d.broadcast(fmt.Sprintf("no autosave %d; nothing restored", n))
			return nil
		}
		return err
	case "help":
		log.Info("command help")
		for _, line := range usageLines {
			d.whisper(ev.Username, line)
		}
		return nil
	case "save":
		label := archive.DefaultSaveLabel
		if len(cmd.Args) > 0 {
			label = schema.SaveLabel(cmd.Args[0])
		}
		log.Info("command save", "label", label)
		d.broadcast("Received save signal. Saving current file...")
		if err := d.saves.SaveCurrent(ctx, label, ev.Username); err != nil {
			if errors.Is(err, schema.ErrSaveNotConfirmed) {
				log.Warn("save failed", "label", label)
				return nil
			}
			return err
		}
		return nil
	case "ls":
		if len(cmd.Args) == 0 {
			log.Info("command load last save")
			d.broadcast("Received load_last_save signal. Loading last save...")
			err := d.saves.RestoreLatestManual(ctx)
			if errors.Is(err, schema.ErrSaveNotFound) {
				d.broadcast("no manual save to restore")
				return nil
			}
			return err
		}
		if cmd.Args[0] == "?" {
			log.Info("command browse saves")
			return d.browseSaves(ctx)
		}
		label := schema.SaveLabel(cmd.Args[0])
		log.Info("command load named save", "label", label)
		d.broadcast("Received load_save signal. Loading requested save...")
		err := d.saves.RestoreByName(ctx, label)
		if errors.Is(err, schema.ErrSaveNotFound) {
			d.broadcast(fmt.Sprintf("save %q not found", label))
			return nil
		}
		return err
	default:
		log.Debug("command ignored")
		return nil
	}
}

var usageLines = []string{
	"!!shutdown      ->  shutdown the server",
	"!!restart       ->  restart the server",
	"!!la [m]        ->  load the autosave m files before the current one, default m = 1",
	"!!save [name]   ->  save and archive the current state, optionally under name",
	"!!ls            ->  load the last manually archived save",
	"!!ls <name>     ->  load the archived save called name",
	"!!ls ?          ->  browse all archived saves and restore one",
	"!!help          ->  show this text",
}

func (d *Dispatcher) broadcast(msg string) {
	if err := d.server.WriteLine(msg); err != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Warn("broadcast failed", "err", err)
	}
}

func (d *Dispatcher) whisper(user schema.Username, msg string) {
	if err := d.server.WriteLine(fmt.Sprintf("/whisper %s %s", user, msg)); err != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Warn("whisper failed", "user", user, "err", err)
	}
}

func (d *Dispatcher) log(ctx context.Context) pslog.Logger {
	if d.cfg.Logger != nil {
		return d.cfg.Logger
	}
	return pslog.Ctx(ctx)
}
