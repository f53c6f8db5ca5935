package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lanshare/internal/config"
	"lanshare/internal/transfer"
)

// flags shared by every command; zero values leave the env/default config alone.
type rootFlags struct {
	port       int
	savePath   string
	deviceName string
	logLevel   string
	prefsPath  string
	control    string
	peers      []string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cfg := config.FromEnv()

	root := &cobra.Command{
		Use:           "lanshare",
		Short:         "Share files with devices on the local network over HTTP",
		Version:       transfer.Version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, &cfg, f)
			return setupLogging(cfg.LogLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.IntVarP(&f.port, "port", "p", cfg.Server.Port, "transfer server port")
	pf.StringVarP(&f.savePath, "save-path", "d", cfg.Server.SavePath, "directory for received files")
	pf.StringVarP(&f.deviceName, "name", "n", cfg.Server.DeviceName, "device name shown to peers")
	pf.StringVar(&f.logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&f.prefsPath, "prefs", cfg.PrefsPath, "preferences file")
	pf.StringVar(&f.control, "control-addr", cfg.ControlAddr, "loopback address of the control API")
	pf.StringSliceVar(&f.peers, "peer", nil, "known peer as name=ip or ip (repeatable)")

	root.AddCommand(
		newServeCmd(&cfg, &f),
		newSendCmd(&cfg),
		newTestCmd(&cfg),
		newFilesCmd(&cfg),
		newInfoCmd(),
	)
	return root
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, f rootFlags) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("save-path") {
		cfg.Server.SavePath = f.savePath
	}
	if flags.Changed("name") {
		cfg.Server.DeviceName = f.deviceName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("prefs") {
		cfg.PrefsPath = f.prefsPath
	}
	if flags.Changed("control-addr") {
		cfg.ControlAddr = f.control
	}
}

func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
