package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"lanshare/internal/config"
	"lanshare/internal/models"
	"lanshare/internal/transfer"
	"lanshare/pkg/utils"
)

var logger = logrus.WithField("component", "api")

// DirectoryPicker asks the user for a directory. An empty path means cancelled.
type DirectoryPicker interface {
	PickDirectory(ctx context.Context) (string, error)
}

// Control is the only surface the desktop side uses to drive the transfer
// server. No method returns an error; failures become false, "" or a Result.
type Control struct {
	server    *transfer.Server
	picker    DirectoryPicker
	resolveIP func() string
}

func NewControl(server *transfer.Server, picker DirectoryPicker) *Control {
	return &Control{server: server, picker: picker, resolveIP: utils.GetLocalIP}
}

// Start applies cfg and starts the server. Changing the port of a running
// server only takes effect after a restart.
func (c *Control) Start(cfg config.ServerConfig) bool {
	logger.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"savePath": cfg.SavePath,
	}).Info("starting LAN share server")

	c.server.SetPort(cfg.Port)
	if cfg.DeviceName != "" {
		c.server.SetDeviceName(cfg.DeviceName)
	}
	if err := c.server.SetSavePath(cfg.SavePath); err != nil {
		logger.WithError(err).Warn("save path rejected, continuing without uploads")
	}

	err := c.server.Start()
	ok := err == nil
	logger.WithFields(logrus.Fields{
		"result":    ok,
		"isRunning": c.server.IsRunning(),
	}).Info("LAN share server start result")
	return ok
}

func (c *Control) Stop(ctx context.Context) bool {
	if err := c.server.Stop(ctx); err != nil {
		logger.WithError(err).Warn("server did not close cleanly, marked stopped")
	}
	return true
}

func (c *Control) Status() bool {
	return c.server.IsRunning()
}

func (c *Control) GetFileList(dir string) models.FileList {
	files, err := transfer.ListFiles(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return models.FileList{Error: "Directory does not exist", Files: []models.FileInfo{}}
	case err != nil:
		logger.WithError(err).WithField("dir", dir).Error("failed to get file list")
		return models.FileList{Error: err.Error(), Files: []models.FileInfo{}}
	}
	return models.FileList{Success: true, Files: files}
}

// GetServerPort is the bound port while running, the configured port otherwise.
func (c *Control) GetServerPort() int {
	return c.server.Port()
}

func (c *Control) GetServerURL() string {
	return c.server.URL()
}

// GetServerQRCode returns the server URL as a PNG data URI, or "" when stopped.
func (c *Control) GetServerQRCode() string {
	url := c.server.URL()
	if url == "" {
		return ""
	}
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		logger.WithError(err).Warn("qr code generation failed")
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (c *Control) SetDeviceName(name string) models.Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Result{Error: "device name must not be empty"}
	}
	c.server.SetDeviceName(name)
	return models.Result{Success: true}
}

func (c *Control) GetHostname() string {
	return utils.GetHostname()
}

func (c *Control) GetIP() string {
	return c.resolveIP()
}

func (c *Control) SelectDirectory(ctx context.Context) string {
	if c.picker == nil {
		return ""
	}
	dir, err := c.picker.PickDirectory(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to select directory")
		return ""
	}
	return dir
}

func (c *Control) GetDownloadsPath() string {
	return utils.DownloadsDir()
}
