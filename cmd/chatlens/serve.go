package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesm/chatlens/internal/server"
	"github.com/wesm/chatlens/internal/store"
)

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", cfg.StorePath, err)
	}
	defer st.Close()

	// Fall forward to a free port when the configured one is taken,
	// unless the user pinned it explicitly.
	if !cmd.Flags().Changed("port") {
		port, err := server.FindAvailablePort(cfg.Host, cfg.Port)
		if err != nil {
			return err
		}
		if port != cfg.Port {
			logrus.WithField("port", port).Info("configured port busy, using next free one")
			cfg.Port = port
		}
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, st, version)
	fmt.Printf("chatlens listening on http://%s:%d\n", cfg.Host, cfg.Port)
	return srv.ListenAndServe(ctx)
}
