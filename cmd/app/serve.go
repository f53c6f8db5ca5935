package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lanshare/internal/api"
	"lanshare/internal/config"
	"lanshare/internal/discovery"
	"lanshare/internal/notify"
	"lanshare/internal/peer"
	"lanshare/internal/session"
	"lanshare/internal/storage"
	"lanshare/internal/transfer"
	"lanshare/pkg/utils"
)

func newServeCmd(cfg *config.Config, f *rootFlags) *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer server and the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg, flagOverrides(cmd, *cfg), f.peers, autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start the transfer server immediately")
	return cmd
}

// overrides holds settings given explicitly on the command line. They win
// over saved preferences.
type overrides struct {
	port       *int
	savePath   *string
	deviceName *string
}

func flagOverrides(cmd *cobra.Command, cfg config.Config) overrides {
	var o overrides
	flags := cmd.Flags()
	if flags.Changed("port") {
		o.port = &cfg.Server.Port
	}
	if flags.Changed("save-path") {
		o.savePath = &cfg.Server.SavePath
	}
	if flags.Changed("name") {
		o.deviceName = &cfg.Server.DeviceName
	}
	return o
}

func (o overrides) apply(state *session.State) error {
	if o.port != nil {
		if err := state.SetPort(*o.port); err != nil {
			return err
		}
	}
	if o.savePath != nil {
		if err := state.SetSavePath(*o.savePath); err != nil {
			return err
		}
	}
	if o.deviceName != nil {
		if res := state.SetDeviceName(*o.deviceName); !res.Success {
			return fmt.Errorf("device name: %s", res.Error)
		}
	}
	return nil
}

func openStore(cfg config.Config) (storage.Store, error) {
	if cfg.DBConnStr != "" {
		store, err := storage.NewPGStore(cfg.DBConnStr)
		if err != nil {
			return nil, fmt.Errorf("cannot connect to database: %w", err)
		}
		logrus.Info("preferences stored in PostgreSQL")
		return store, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.PrefsPath), 0o755); err != nil {
		return nil, err
	}
	return storage.NewFileStore(cfg.PrefsPath)
}

func serve(parent context.Context, cfg config.Config, flags overrides, peers []string, autostart bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var disc discovery.Discovery = discovery.Unavailable{}
	if len(peers) > 0 {
		static, err := discovery.ParseStatic(peers)
		if err != nil {
			return err
		}
		disc = static
	}

	var mailer *notify.Mailer
	if cfg.MailEnabled() {
		mailer = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPass, cfg.NotifyEmail, cfg.Server.DeviceName)
	}

	// the control API exists before the transfer server so events can reach websocket clients
	apiServer := api.NewServer(nil, nil)
	broadcast := func(event string, payload interface{}) {
		apiServer.Broadcast(event, payload)
		if mailer != nil {
			mailer.Observe(event, payload)
		}
	}

	srv := transfer.NewServer(cfg.Server, transfer.Options{
		MaxUploadSize:  cfg.MaxUploadSize,
		MaxConnections: cfg.MaxConnections,
		Broadcast:      broadcast,
	})
	control := api.NewControl(srv, stdinPicker{in: os.Stdin, out: os.Stderr})

	state := session.New(control, peer.NewClient(nil), disc, storage.NewPrefs(store), cfg.Server, session.Options{
		Notify: apiServer.Broadcast,
	})
	defer state.Close()
	if err := state.Init(ctx); err != nil {
		return err
	}
	if err := flags.apply(state); err != nil {
		return err
	}
	apiServer.SetControl(control)
	apiServer.SetSession(state)

	if autostart && !state.IsRunning() {
		state.ToggleService(ctx)
	}

	printBanner(state.Settings(), cfg.ControlAddr, control.GetServerURL())

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.ListenAndServe(cfg.ControlAddr) }()

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logrus.WithError(err).Error("control API stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	control.Stop(shutdownCtx)
	if serr := apiServer.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		logrus.WithError(serr).Warn("control API shutdown")
	}
	return err
}

func printBanner(s session.Settings, controlAddr, url string) {
	if url == "" {
		url = "(stopped)"
	}
	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════════════════════════════════════╗\n")
	fmt.Printf("║               LAN Share  -  Ready!                   ║\n")
	fmt.Printf("╠══════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Device   : %-40s║\n", s.DeviceName)
	fmt.Printf("║  Local IP : %-40s║\n", utils.GetLocalIP())
	fmt.Printf("║  Server   : %-40s║\n", url)
	fmt.Printf("║  Control  : http://%-33s║\n", controlAddr)
	fmt.Printf("║  Save path: %-40s║\n", s.SavePath)
	fmt.Printf("╚══════════════════════════════════════════════════════╝\n\n")
}
