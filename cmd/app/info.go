package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lanshare/internal/config"
	"lanshare/internal/transfer"
	"lanshare/pkg/utils"
)

func newFilesCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "files [dir]",
		Short: "List received files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.Server.SavePath
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				dir = utils.DownloadsDir()
			}
			files, err := transfer.ListFiles(dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, utils.FormatFileSize(f.Size), f.LastModified)
			}
			return w.Flush()
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show hostname, LAN IP and downloads directory",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Hostname : %s\n", utils.GetHostname())
			fmt.Printf("Local IP : %s\n", utils.GetLocalIP())
			fmt.Printf("Downloads: %s\n", utils.DownloadsDir())
			fmt.Printf("Version  : %s\n", transfer.Version)
		},
	}
}
