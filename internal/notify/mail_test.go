package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	gomail "gopkg.in/gomail.v2"

	"lanshare/internal/models"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestFileReceived(t *testing.T) {
	fs := &fakeSender{}
	m := NewMailerWithSender(fs, "box@example.com", "me@example.com", "desk")

	err := m.FileReceived(&models.UploadedFile{
		OriginalName: "report.pdf",
		StoredName:   "1-2-report.pdf",
		Size:         2048,
		URL:          "http://10.0.0.2:3000/files/1-2-report.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fs.sent))
	}

	msg := fs.sent[0]
	if got := msg.GetHeader("Subject"); len(got) != 1 || got[0] != "[desk] received report.pdf" {
		t.Errorf("Subject = %v", got)
	}
	var buf bytes.Buffer
	msg.WriteTo(&buf)
	if !strings.Contains(buf.String(), "2.00 KB") {
		t.Errorf("body missing formatted size:\n%s", buf.String())
	}
}

func TestFileReceivedError(t *testing.T) {
	fs := &fakeSender{err: errors.New("smtp down")}
	m := NewMailerWithSender(fs, "a@example.com", "b@example.com", "desk")
	if err := m.FileReceived(&models.UploadedFile{OriginalName: "x"}); err == nil {
		t.Error("expected error from sender")
	}
}
