package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/factorioctl/internal/appconfig"
	"pkt.systems/factorioctl/internal/archive"
	"pkt.systems/factorioctl/internal/chatlog"
	"pkt.systems/factorioctl/internal/dispatch"
	"pkt.systems/factorioctl/internal/linemux"
	"pkt.systems/factorioctl/internal/savewatch"
	"pkt.systems/factorioctl/internal/supervisor"
	"pkt.systems/factorioctl/internal/updatecheck"
	"pkt.systems/factorioctl/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Factorio headless server under supervision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			return runController(cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func runController(cmd *cobra.Command, cfg appconfig.Config) error {
	ctx := cmd.Context()
	logger := pslog.Ctx(ctx)

	// Ctrl-C at the terminal belongs to the child; the controller stays up
	// through engine restarts and only leaves when the child does. The
	// signal is caught and discarded rather than ignored: an ignored
	// disposition would be inherited across exec and make the child deaf
	// to the interrupt Stop delivers.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
		}
	}()

	updatecheck.Report(ctx, updatecheck.Checker{}, "")

	echo := func(line string) {
		fmt.Fprintln(cmd.OutOrStdout(), "server: "+line)
	}

	sup, err := supervisor.New(supervisor.Config{
		Command: cfg.Command(),
		Echo:    echo,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	mux := linemux.New(sup, linemux.OperatorLines(cmd.InOrStdin()), echo, logger)

	arc, err := archive.New(archive.Config{
		Dir:           cfg.ArchivePath(),
		SavePath:      cfg.SavePath(),
		EngineSaveDir: cfg.EngineSaveDir(),
		Announce:      func(msg string) { _ = sup.WriteLine(msg) },
		Logger:        logger,
	}, sup, mux)
	if err != nil {
		return err
	}

	disp := dispatch.New(sup, arc, mux, dispatch.Config{Logger: logger})

	if cfg.WatchAutosaves {
		watcher, err := savewatch.New(cfg.EngineSaveDir(), logger)
		if err != nil {
			logger.Warn("autosave watch unavailable", "err", err, "dir", cfg.EngineSaveDir())
		} else {
			defer watcher.Close()
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}
	logger.Info("server started", "command", strings.Join(cfg.Command(), " "))

	for {
		line, ok, err := mux.Cycle(ctx)
		if err != nil {
			if errors.Is(err, schema.ErrServerExited) {
				logger.Info("server exited, controller stopping")
				return nil
			}
			return err
		}
		if !ok {
			continue
		}
		ev, ok := chatlog.Parse(line)
		if !ok {
			continue
		}
		if err := disp.Handle(ctx, ev); err != nil {
			if errors.Is(err, schema.ErrServerExited) {
				logger.Info("server exited, controller stopping")
				return nil
			}
			logger.Error("chat command failed", "err", err, "user", ev.Username)
		}
	}
}
