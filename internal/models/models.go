package models

import "time"

// ISOTime is the timestamp layout used on the wire (UTC, millisecond precision).
const ISOTime = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in ISOTime.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOTime)
}

// UploadedFile describes a file persisted by the upload endpoint.
type UploadedFile struct {
	OriginalName string `json:"originalName"`
	StoredName   string `json:"filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// FileInfo is a listing entry of a save directory.
type FileInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}

type RuntimeState struct {
	Running      bool   `json:"isRunning"`
	BoundAddress string `json:"boundAddress"`
	Port         int    `json:"port"`
}

type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	IsOnline bool   `json:"isOnline"`
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageFile  MessageType = "file"
	MessageImage MessageType = "image"
)

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSuccess MessageStatus = "success"
	StatusFailed  MessageStatus = "failed"
)

// MessageData is one entry of the desktop transfer log.
type MessageData struct {
	ID         string        `json:"id"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"type"`
	FileName   string        `json:"fileName,omitempty"`
	FileSize   string        `json:"fileSize,omitempty"`
	Timestamp  int64         `json:"timestamp"`
	IsOutgoing bool          `json:"isOutgoing"`
	Status     MessageStatus `json:"status"`
	DeviceName string        `json:"deviceName,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Result is the shape every fallible control call returns instead of an error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type FileList struct {
	Success bool       `json:"success"`
	Files   []FileInfo `json:"files"`
	Error   string     `json:"error,omitempty"`
}
