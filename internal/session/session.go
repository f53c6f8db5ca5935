package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lanshare/internal/auth"
	"lanshare/internal/config"
	"lanshare/internal/discovery"
	"lanshare/internal/models"
	"lanshare/internal/peer"
	"lanshare/internal/storage"
	"lanshare/pkg/utils"
)

var logger = logrus.WithField("component", "session")

// ErrServiceStopped is returned by SendFile and SendMessage while the service is off.
var ErrServiceStopped = errors.New("service is not running")

const (
	MinPort = 1024
	MaxPort = 65535
)

// Event names passed to Options.Notify.
const (
	EventServiceChanged = "serviceChanged"
	EventMessageAdded   = "messageAdded"
	EventMessageUpdated = "messageUpdated"
	EventDevicesChanged = "devicesChanged"
	EventSelfTest       = "selfTest"
)

// Controller is the part of the Host Control Surface the session drives.
type Controller interface {
	Start(cfg config.ServerConfig) bool
	Stop(ctx context.Context) bool
	Status() bool
	SetDeviceName(name string) models.Result
	GetIP() string
	GetServerPort() int
}

// Uploader is the Peer Client Adapter.
type Uploader interface {
	TestConnection(ctx context.Context, ep peer.Endpoint) peer.ConnectionResult
	UploadFile(ctx context.Context, ep peer.Endpoint, path string, progress io.Writer) (*models.UploadedFile, error)
}

type Options struct {
	// SelfTestDelay is the pause between a successful start and the connectivity self-test.
	SelfTestDelay time.Duration
	// EchoDelay is how long a local text message stays pending.
	EchoDelay time.Duration
	Notify    func(event string, payload interface{})
	Now       func() time.Time
}

type Settings struct {
	Port          int    `json:"port"`
	SavePath      string `json:"savePath"`
	DeviceName    string `json:"deviceName"`
	HasSecretCode bool   `json:"hasSecretCode"`
}

// Snapshot is a consistent copy of the whole session.
type Snapshot struct {
	InstanceID string               `json:"instanceId"`
	Running    bool                 `json:"isRunning"`
	Settings   Settings             `json:"settings"`
	Devices    []models.Device      `json:"devices"`
	Selected   []string             `json:"selected"`
	Messages   []models.MessageData `json:"messages"`
}

// State is the desktop-side view of the service: settings, peers and the
// transfer log. All methods are safe for concurrent use.
type State struct {
	control   Controller
	uploader  Uploader
	discovery discovery.Discovery
	prefs     *storage.Prefs
	opts      Options

	instanceID string
	toggleMu   sync.Mutex

	mu         sync.Mutex
	running    bool
	settings   config.ServerConfig
	secretHash string
	devices    []models.Device
	selected   map[string]bool
	messages   []*models.MessageData
	lastID     int64

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

func New(control Controller, uploader Uploader, disc discovery.Discovery, prefs *storage.Prefs, defaults config.ServerConfig, opts Options) *State {
	if disc == nil {
		disc = discovery.Unavailable{}
	}
	if opts.SelfTestDelay == 0 {
		opts.SelfTestDelay = time.Second
	}
	if opts.EchoDelay == 0 {
		opts.EchoDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &State{
		control:    control,
		uploader:   uploader,
		discovery:  disc,
		prefs:      prefs,
		opts:       opts,
		instanceID: uuid.NewString(),
		settings:   defaults,
		selected:   make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Init reloads persisted settings and asks the server whether it is running.
// The cached running flag is never trusted.
func (s *State) Init(ctx context.Context) error {
	if s.prefs != nil {
		if err := s.loadPrefs(); err != nil {
			return fmt.Errorf("load preferences: %w", err)
		}
	}

	s.mu.Lock()
	name := s.settings.DeviceName
	s.mu.Unlock()
	if name != "" {
		s.control.SetDeviceName(name)
	}

	running := s.control.Status()
	if s.prefs != nil {
		var cached bool
		if ok, err := s.prefs.Load(storage.KeyRunning, &cached); err == nil && ok && cached != running {
			logger.WithFields(logrus.Fields{
				"cached": cached,
				"actual": running,
			}).Info("service state changed while the app was closed")
		}
	}

	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	s.persist(storage.KeyRunning, running)

	if running {
		s.goBackground(func(ctx context.Context) {
			s.ScanDevices(ctx)
		})
	}
	return nil
}

func (s *State) loadPrefs() error {
	var port int
	ok, err := s.prefs.Load(storage.KeyPort, &port)
	if err != nil {
		// an unreadable port falls back to the default
		logger.WithError(err).Warn("ignoring stored port")
	} else if ok && validPort(port) {
		s.settings.Port = port
	}

	strs := []struct {
		key string
		dst *string
	}{
		{storage.KeyHostname, &s.settings.DeviceName},
		{storage.KeySavePath, &s.settings.SavePath},
		{storage.KeySecretCode, &s.secretHash},
	}
	for _, f := range strs {
		v, ok, err := s.prefs.LoadString(f.key)
		if err != nil {
			return err
		}
		if ok && v != "" {
			*f.dst = v
		}
	}

	if s.secretHash != "" && !auth.IsHash(s.secretHash) {
		hash, err := auth.HashSecret(s.secretHash)
		if err != nil {
			return err
		}
		s.secretHash = hash
		s.persist(storage.KeySecretCode, hash)
		logger.Info("migrated plain-text secret code to a hash")
	}
	return nil
}

// ToggleService stops a running service or starts a stopped one with the
// current settings. It reports the new running state.
func (s *State) ToggleService(ctx context.Context) bool {
	s.toggleMu.Lock()
	defer s.toggleMu.Unlock()

	running := s.syncRunning()
	s.mu.Lock()
	cfg := s.settings
	s.mu.Unlock()

	if running {
		s.control.Stop(ctx)
		s.setRunning(false)
		return false
	}

	if !s.control.Start(cfg) {
		logger.WithField("port", cfg.Port).Warn("service failed to start")
		s.setRunning(false)
		return false
	}
	s.setRunning(true)

	s.goBackground(func(ctx context.Context) {
		select {
		case <-time.After(s.opts.SelfTestDelay):
		case <-ctx.Done():
			return
		}
		res := s.TestServerConnection(ctx)
		if !res.Success {
			logger.WithField("error", res.Error).Warn("self-test failed")
		}
		s.ScanDevices(ctx)
	})
	return true
}

func (s *State) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	s.persist(storage.KeyRunning, running)
	s.notify(EventServiceChanged, running)
}

// IsRunning reports the server's actual state. The server can also be
// started or stopped directly through the Controller.
func (s *State) IsRunning() bool {
	return s.syncRunning()
}

// syncRunning refreshes the cached running flag from the Controller.
func (s *State) syncRunning() bool {
	running := s.control.Status()
	s.mu.Lock()
	changed := s.running != running
	s.running = running
	s.mu.Unlock()
	if changed {
		logger.WithField("isRunning", running).Info("service state changed outside the session")
		s.persist(storage.KeyRunning, running)
		s.notify(EventServiceChanged, running)
	}
	return running
}

// TestServerConnection probes this machine's own transfer server.
func (s *State) TestServerConnection(ctx context.Context) peer.ConnectionResult {
	res := s.uploader.TestConnection(ctx, s.endpoint())
	s.notify(EventSelfTest, res)
	return res
}

// endpoint addresses the local server on the port it is actually bound to.
func (s *State) endpoint() peer.Endpoint {
	return peer.Endpoint{Host: s.control.GetIP(), Port: s.control.GetServerPort()}
}

// SendFile uploads path to the local transfer server and records the outcome
// in the transfer log. Upload failures are recorded, not returned.
func (s *State) SendFile(ctx context.Context, path string) (models.MessageData, error) {
	s.syncRunning()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		logger.WithField("path", path).Warn("refusing to send file, service is not running")
		return models.MessageData{}, ErrServiceStopped
	}
	msg := &models.MessageData{
		ID:         s.nextID(),
		Content:    path,
		Type:       fileType(path),
		FileName:   filepath.Base(path),
		Timestamp:  s.opts.Now().UnixMilli(),
		IsOutgoing: true,
		Status:     models.StatusPending,
		DeviceName: s.settings.DeviceName,
	}
	if info, err := os.Stat(path); err == nil {
		msg.FileSize = utils.FormatFileSize(info.Size())
	}
	s.messages = append(s.messages, msg)
	added := *msg
	s.mu.Unlock()
	s.notify(EventMessageAdded, added)

	file, err := s.uploader.UploadFile(ctx, s.endpoint(), path, nil)

	s.mu.Lock()
	if err != nil {
		msg.Status = models.StatusFailed
		msg.Error = err.Error()
	} else {
		msg.Status = models.StatusSuccess
		msg.Content = file.URL
	}
	out := *msg
	s.mu.Unlock()

	if err != nil {
		logger.WithError(err).WithField("file", out.FileName).Error("file upload failed")
	} else {
		logger.WithField("url", out.Content).Info("file uploaded")
	}
	s.notify(EventMessageUpdated, out)
	return out, nil
}

// SendMessage appends a text entry that succeeds after EchoDelay. There is no
// peer transport for text; the entry is a local echo.
func (s *State) SendMessage(text string) (models.MessageData, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.MessageData{}, errors.New("message is empty")
	}

	s.syncRunning()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return models.MessageData{}, ErrServiceStopped
	}
	msg := &models.MessageData{
		ID:         s.nextID(),
		Content:    text,
		Type:       models.MessageText,
		Timestamp:  s.opts.Now().UnixMilli(),
		IsOutgoing: true,
		Status:     models.StatusPending,
		DeviceName: s.settings.DeviceName,
	}
	s.messages = append(s.messages, msg)
	added := *msg
	s.mu.Unlock()
	s.notify(EventMessageAdded, added)

	s.goBackground(func(ctx context.Context) {
		select {
		case <-time.After(s.opts.EchoDelay):
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		msg.Status = models.StatusSuccess
		out := *msg
		s.mu.Unlock()
		s.notify(EventMessageUpdated, out)
	})
	return added, nil
}

// nextID returns a millisecond timestamp, bumped to stay unique. Callers hold mu.
func (s *State) nextID() string {
	id := s.opts.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

func fileType(path string) models.MessageType {
	if strings.HasPrefix(mime.TypeByExtension(filepath.Ext(path)), "image/") {
		return models.MessageImage
	}
	return models.MessageFile
}

func (s *State) Messages() []models.MessageData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *State) messagesLocked() []models.MessageData {
	out := make([]models.MessageData, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// ScanDevices refreshes the device list. On error the previous list is kept.
func (s *State) ScanDevices(ctx context.Context) ([]models.Device, error) {
	devices, err := s.discovery.Scan(ctx)
	if err != nil {
		if errors.Is(err, discovery.ErrNotImplemented) {
			logger.Debug("device discovery unavailable")
		} else {
			logger.WithError(err).Warn("device scan failed")
		}
		return s.Devices(), err
	}

	s.mu.Lock()
	s.devices = devices
	present := make(map[string]bool, len(devices))
	for _, d := range devices {
		present[d.ID] = true
	}
	for id := range s.selected {
		if !present[id] {
			delete(s.selected, id)
		}
	}
	out := append([]models.Device(nil), devices...)
	s.mu.Unlock()

	s.notify(EventDevicesChanged, out)
	return out, nil
}

func (s *State) Devices() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Device(nil), s.devices...)
}

// SelectDevice marks a known device as selected or not. It reports whether the id is known.
func (s *State) SelectDevice(id string, selected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ID != id {
			continue
		}
		if selected {
			s.selected[id] = true
		} else {
			delete(s.selected, id)
		}
		return true
	}
	return false
}

func (s *State) SelectAllDevices(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]bool)
	if !selected {
		return
	}
	for _, d := range s.devices {
		s.selected[d.ID] = true
	}
}

func (s *State) SelectedDevices() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Device
	for _, d := range s.devices {
		if s.selected[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func (s *State) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked()
}

func (s *State) settingsLocked() Settings {
	return Settings{
		Port:          s.settings.Port,
		SavePath:      s.settings.SavePath,
		DeviceName:    s.settings.DeviceName,
		HasSecretCode: s.secretHash != "",
	}
}

// SetPort takes effect on the next start.
func (s *State) SetPort(port int) error {
	if !validPort(port) {
		return fmt.Errorf("port %d out of range %d-%d", port, MinPort, MaxPort)
	}
	s.mu.Lock()
	s.settings.Port = port
	s.mu.Unlock()
	s.persist(storage.KeyPort, port)
	return nil
}

func validPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// SetSavePath takes effect on the next start.
func (s *State) SetSavePath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("save path must not be empty")
	}
	s.mu.Lock()
	s.settings.SavePath = path
	s.mu.Unlock()
	s.persist(storage.KeySavePath, path)
	return nil
}

// SetDeviceName applies the name to the server immediately and persists it.
func (s *State) SetDeviceName(name string) models.Result {
	res := s.control.SetDeviceName(name)
	if !res.Success {
		return res
	}
	name = strings.TrimSpace(name)
	s.mu.Lock()
	s.settings.DeviceName = name
	s.mu.Unlock()
	s.persist(storage.KeyHostname, name)
	return res
}

// SetSecretCode stores a bcrypt hash of code. An empty code clears it.
func (s *State) SetSecretCode(code string) error {
	hash, err := auth.HashSecret(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.secretHash = hash
	s.mu.Unlock()
	s.persist(storage.KeySecretCode, hash)
	return nil
}

func (s *State) CheckSecretCode(code string) bool {
	s.mu.Lock()
	hash := s.secretHash
	s.mu.Unlock()
	return auth.CheckSecret(hash, code)
}

func (s *State) Snapshot() Snapshot {
	s.syncRunning()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		InstanceID: s.instanceID,
		Running:    s.running,
		Settings:   s.settingsLocked(),
		Devices:    append([]models.Device{}, s.devices...),
		Selected:   []string{},
		Messages:   s.messagesLocked(),
	}
	for _, d := range s.devices {
		if s.selected[d.ID] {
			snap.Selected = append(snap.Selected, d.ID)
		}
	}
	return snap
}

func (s *State) persist(key string, v interface{}) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.Save(key, v); err != nil {
		logger.WithError(err).WithField("key", key).Warn("failed to persist preference")
	}
}

func (s *State) notify(event string, payload interface{}) {
	if s.opts.Notify != nil {
		s.opts.Notify(event, payload)
	}
}

func (s *State) goBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.ctx)
	}()
}

// Wait blocks until background work started so far has finished.
func (s *State) Wait() {
	s.bg.Wait()
}

// Close cancels pending background work and waits for it.
func (s *State) Close() {
	s.cancel()
	s.bg.Wait()
}
