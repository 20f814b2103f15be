// chatlens serves analytics over a decrypted WeChat message store.
// Running it with no arguments starts the HTTP server.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesm/chatlens/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

var (
	flagVerbose bool
	flagStore   string
	flagHost    string
	flagPort    int
	flagTZ      string
)

func main() {
	root := &cobra.Command{
		Use:           "chatlens",
		Short:         "Chat history analytics server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
	root.PersistentFlags().StringVar(&flagStore, "store", "",
		"path to the decrypted chat database")
	root.PersistentFlags().StringVar(&flagTZ, "timezone", "",
		"IANA timezone for calendar bucketing")
	root.Flags().StringVar(&flagHost, "host", "", "listen host")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	serveCmd.Flags().StringVar(&flagHost, "host", "", "listen host")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port")

	root.AddCommand(serveCmd, reportCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatlens: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatlens %s (commit %s, built %s)\n",
				version, commit, buildDate)
		},
	}
}

// loadConfig layers defaults, config file and env, then applies
// whichever flags the user set on cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if flagStore != "" {
		cfg.StorePath = flagStore
	}
	if flagTZ != "" {
		cfg.Timezone = flagTZ
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	return cfg, cfg.Validate()
}
