package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lanshare/internal/config"
	"lanshare/internal/peer"
	"lanshare/pkg/utils"
)

func newSendCmd(cfg *config.Config) *cobra.Command {
	var host string
	var parallel int
	cmd := &cobra.Command{
		Use:   "send <file>...",
		Short: "Upload files to a transfer server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := peer.Endpoint{Host: host, Port: cfg.Server.Port}
			if ep.Host == "" {
				ep.Host = utils.GetLocalIP()
			}
			return sendFiles(cmd.Context(), peer.NewClient(nil), ep, args, parallel)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server address (defaults to this machine's LAN IP)")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 3, "concurrent uploads")
	return cmd
}

func sendFiles(ctx context.Context, client *peer.Client, ep peer.Endpoint, paths []string, parallel int) error {
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for _, path := range paths {
		path := path
		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			bar := progressbar.NewOptions64(info.Size(),
				progressbar.OptionSetDescription(filepath.Base(path)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
			)
			file, err := client.UploadFile(ctx, ep, path, bar)
			if err != nil {
				bar.Exit()
				return err
			}
			bar.Finish()
			logrus.WithField("file", file.OriginalName).Info("uploaded")
			fmt.Println(file.URL)
			return nil
		})
	}
	return g.Wait()
}

func newTestCmd(cfg *config.Config) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check that a transfer server answers on /test",
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := peer.Endpoint{Host: host, Port: cfg.Server.Port}
			if ep.Host == "" {
				ep.Host = utils.GetLocalIP()
			}
			res := peer.NewClient(nil).TestConnection(cmd.Context(), ep)
			if !res.Success {
				return fmt.Errorf("connection test failed: %s", res.Error)
			}
			fmt.Printf("OK %s (%s, server time %s)\n", res.URL, res.Data.Message, res.Data.Time)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server address (defaults to this machine's LAN IP)")
	return cmd
}
