package notify

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"

	"lanshare/internal/models"
	"lanshare/pkg/utils"
)

var logger = logrus.WithField("component", "notify")

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer emails a short notice whenever the transfer server receives a file.
type Mailer struct {
	sender     Sender
	from       string
	to         string
	deviceName string
}

func NewMailer(host string, port int, from, pass, to, deviceName string) *Mailer {
	d := gomail.NewDialer(host, port, from, pass)
	d.TLSConfig = &tls.Config{ServerName: host}
	return NewMailerWithSender(d, from, to, deviceName)
}

func NewMailerWithSender(sender Sender, from, to, deviceName string) *Mailer {
	return &Mailer{sender: sender, from: from, to: to, deviceName: deviceName}
}

// FileReceived sends the notice. Errors are returned for the caller to log.
func (m *Mailer) FileReceived(f *models.UploadedFile) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] received %s", m.deviceName, f.OriginalName))
	msg.SetBody("text/plain", fmt.Sprintf(
		"%s received a file over LAN share.\n\nName: %s\nSize: %s\nSaved as: %s\nDownload: %s\n",
		m.deviceName, f.OriginalName, utils.FormatFileSize(f.Size), f.Path, f.URL,
	))

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// Observe is a transfer-server event callback. Mail is sent off the request path.
func (m *Mailer) Observe(event string, payload interface{}) {
	f, ok := payload.(*models.UploadedFile)
	if event != "fileReceived" || !ok {
		return
	}
	go func() {
		if err := m.FileReceived(f); err != nil {
			logger.WithError(err).WithField("file", f.StoredName).Warn("upload notification failed")
		}
	}()
}
