package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lanshare/internal/config"
	"lanshare/internal/discovery"
	"lanshare/internal/models"
	"lanshare/internal/peer"
	"lanshare/internal/storage"
)

type fakeControl struct {
	mu       sync.Mutex
	running  bool
	failNext bool
	port     int
	started  []config.ServerConfig
	names    []string
}

func (c *fakeControl) Start(cfg config.ServerConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, cfg)
	if c.failNext {
		c.failNext = false
		return false
	}
	c.running = true
	c.port = cfg.Port
	return true
}

func (c *fakeControl) Stop(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return true
}

func (c *fakeControl) Status() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeControl) SetDeviceName(name string) models.Result {
	if name == "" {
		return models.Result{Error: "device name must not be empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	return models.Result{Success: true}
}

func (c *fakeControl) GetIP() string { return "192.168.1.20" }

func (c *fakeControl) GetServerPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// set flips the server state behind the session's back.
func (c *fakeControl) set(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

type fakeUploader struct {
	mu     sync.Mutex
	err    error
	tests  int
	target peer.Endpoint
}

func (u *fakeUploader) TestConnection(ctx context.Context, ep peer.Endpoint) peer.ConnectionResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tests++
	return peer.ConnectionResult{Success: true, URL: ep.BaseURL()}
}

func (u *fakeUploader) UploadFile(ctx context.Context, ep peer.Endpoint, path string, progress io.Writer) (*models.UploadedFile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.target = ep
	if u.err != nil {
		return nil, u.err
	}
	name := filepath.Base(path)
	return &models.UploadedFile{
		OriginalName: name,
		StoredName:   "1-2-" + name,
		URL:          ep.BaseURL() + "/files/1-2-" + name,
	}, nil
}

func newPrefs(t *testing.T) *storage.Prefs {
	t.Helper()
	fs, err := storage.NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewPrefs(fs)
}

func newState(t *testing.T, ctl *fakeControl, up *fakeUploader, prefs *storage.Prefs, disc discovery.Discovery) *State {
	t.Helper()
	s := New(ctl, up, disc, prefs, config.ServerConfig{Port: 3000, SavePath: t.TempDir()}, Options{
		SelfTestDelay: time.Millisecond,
		EchoDelay:     time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

func TestInitTrustsServerStatus(t *testing.T) {
	prefs := newPrefs(t)
	if err := prefs.Save(storage.KeyRunning, true); err != nil {
		t.Fatal(err)
	}
	ctl := &fakeControl{}
	s := newState(t, ctl, &fakeUploader{}, prefs, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Fatal("cached running flag should not override server status")
	}

	var cached bool
	if _, err := prefs.Load(storage.KeyRunning, &cached); err != nil || cached {
		t.Fatalf("running flag not refreshed: %v %v", cached, err)
	}
}

func TestInitLoadsPreferences(t *testing.T) {
	prefs := newPrefs(t)
	prefs.Save(storage.KeyPort, 4567)
	prefs.Save(storage.KeySavePath, "/srv/share")
	prefs.Save(storage.KeyHostname, "desk")

	ctl := &fakeControl{running: true}
	s := newState(t, ctl, &fakeUploader{}, prefs, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	got := s.Settings()
	if got.Port != 4567 || got.SavePath != "/srv/share" || got.DeviceName != "desk" {
		t.Fatalf("settings = %+v", got)
	}
	if !s.IsRunning() {
		t.Fatal("expected running from server status")
	}
	if len(ctl.names) != 1 || ctl.names[0] != "desk" {
		t.Fatalf("device name not pushed to server: %v", ctl.names)
	}
}

func TestInitIgnoresInvalidStoredPort(t *testing.T) {
	prefs := newPrefs(t)
	prefs.Save(storage.KeyPort, 80)
	s := newState(t, &fakeControl{}, &fakeUploader{}, prefs, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Settings().Port; got != 3000 {
		t.Fatalf("port = %d, want default 3000", got)
	}
}

func TestToggleService(t *testing.T) {
	ctl := &fakeControl{}
	up := &fakeUploader{}
	prefs := newPrefs(t)
	s := newState(t, ctl, up, prefs, nil)

	if !s.ToggleService(context.Background()) {
		t.Fatal("toggle should start the service")
	}
	s.Wait()
	if len(ctl.started) != 1 || ctl.started[0].Port != 3000 {
		t.Fatalf("started with %+v", ctl.started)
	}
	if up.tests != 1 {
		t.Fatalf("self-test ran %d times, want 1", up.tests)
	}

	if s.ToggleService(context.Background()) {
		t.Fatal("toggle should stop the service")
	}
	if ctl.Status() || s.IsRunning() {
		t.Fatal("service still running")
	}
}

func TestToggleServiceStartFailure(t *testing.T) {
	ctl := &fakeControl{failNext: true}
	up := &fakeUploader{}
	s := newState(t, ctl, up, nil, nil)

	if s.ToggleService(context.Background()) {
		t.Fatal("toggle reported running after failed start")
	}
	s.Wait()
	if up.tests != 0 {
		t.Fatal("self-test should not run after a failed start")
	}
}

func TestSendFileRefusedWhenStopped(t *testing.T) {
	s := newState(t, &fakeControl{}, &fakeUploader{}, nil, nil)
	_, err := s.SendFile(context.Background(), "/tmp/whatever.txt")
	if !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("err = %v, want ErrServiceStopped", err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("log mutated: %d entries", n)
	}
}

func TestSendFileSuccess(t *testing.T) {
	ctl := &fakeControl{}
	up := &fakeUploader{}
	s := newState(t, ctl, up, nil, nil)
	s.ToggleService(context.Background())
	s.Wait()

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	msg, err := s.SendFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusSuccess {
		t.Fatalf("status = %s", msg.Status)
	}
	if msg.Type != models.MessageImage {
		t.Fatalf("type = %s, want image", msg.Type)
	}
	if msg.FileSize != "2.00 KB" {
		t.Fatalf("size = %q", msg.FileSize)
	}
	want := "http://192.168.1.20:3000/files/1-2-photo.png"
	if msg.Content != want {
		t.Fatalf("content = %q, want %q", msg.Content, want)
	}
	if up.target.Host != "192.168.1.20" || up.target.Port != 3000 {
		t.Fatalf("uploaded to %+v", up.target)
	}

	log := s.Messages()
	if len(log) != 1 || log[0].Status != models.StatusSuccess {
		t.Fatalf("log = %+v", log)
	}
}

func TestSendFileFailureIsRecorded(t *testing.T) {
	up := &fakeUploader{err: errors.New("connection refused")}
	s := newState(t, &fakeControl{}, up, nil, nil)
	s.ToggleService(context.Background())
	s.Wait()

	msg, err := s.SendFile(context.Background(), filepath.Join(t.TempDir(), "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusFailed || msg.Error == "" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Type != models.MessageFile {
		t.Fatalf("type = %s", msg.Type)
	}
}

func TestSendMessageLocalEcho(t *testing.T) {
	var mu sync.Mutex
	var events []string
	ctl := &fakeControl{}
	s := New(ctl, &fakeUploader{}, nil, nil, config.ServerConfig{Port: 3000}, Options{
		SelfTestDelay: time.Millisecond,
		EchoDelay:     time.Millisecond,
		Notify: func(event string, payload interface{}) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})
	t.Cleanup(s.Close)

	if _, err := s.SendMessage("hello"); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("err = %v", err)
	}

	s.ToggleService(context.Background())
	msg, err := s.SendMessage("hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("initial status = %s", msg.Status)
	}
	s.Wait()

	log := s.Messages()
	if len(log) != 1 || log[0].Status != models.StatusSuccess || log[0].Content != "hello" {
		t.Fatalf("log = %+v", log)
	}

	mu.Lock()
	defer mu.Unlock()
	var updated bool
	for _, e := range events {
		if e == EventMessageUpdated {
			updated = true
		}
	}
	if !updated {
		t.Fatalf("no %s event in %v", EventMessageUpdated, events)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	s := New(&fakeControl{running: true}, &fakeUploader{}, nil, nil, config.ServerConfig{}, Options{
		EchoDelay: time.Hour,
		Now:       func() time.Time { return fixed },
	})
	t.Cleanup(s.Close)
	s.Init(context.Background())

	a, _ := s.SendMessage("a")
	b, _ := s.SendMessage("b")
	if a.ID == b.ID {
		t.Fatalf("duplicate id %s", a.ID)
	}
}

func TestScanAndSelectDevices(t *testing.T) {
	disc, err := discovery.ParseStatic([]string{"laptop=192.168.1.30", "192.168.1.31"})
	if err != nil {
		t.Fatal(err)
	}
	s := newState(t, &fakeControl{}, &fakeUploader{}, nil, disc)

	devices, err := s.ScanDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %+v", devices)
	}

	if !s.SelectDevice(devices[0].ID, true) {
		t.Fatal("known device not selectable")
	}
	if s.SelectDevice("nope", true) {
		t.Fatal("unknown device selected")
	}
	if got := s.SelectedDevices(); len(got) != 1 || got[0].Name != "laptop" {
		t.Fatalf("selected = %+v", got)
	}

	s.SelectAllDevices(true)
	if got := len(s.Snapshot().Selected); got != 2 {
		t.Fatalf("selected %d, want 2", got)
	}
	s.SelectAllDevices(false)
	if got := len(s.SelectedDevices()); got != 0 {
		t.Fatalf("selected %d after clear", got)
	}
}

func TestScanWithoutDiscovery(t *testing.T) {
	s := newState(t, &fakeControl{}, &fakeUploader{}, nil, nil)
	devices, err := s.ScanDevices(context.Background())
	if !errors.Is(err, discovery.ErrNotImplemented) {
		t.Fatalf("err = %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("devices = %+v", devices)
	}
}

func TestSettersPersist(t *testing.T) {
	prefs := newPrefs(t)
	ctl := &fakeControl{}
	s := newState(t, ctl, &fakeUploader{}, prefs, nil)

	if err := s.SetPort(80); err == nil {
		t.Fatal("privileged port accepted")
	}
	if err := s.SetPort(8080); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSavePath(""); err == nil {
		t.Fatal("empty save path accepted")
	}
	if err := s.SetSavePath("/data/in"); err != nil {
		t.Fatal(err)
	}
	if res := s.SetDeviceName(""); res.Success {
		t.Fatal("empty device name accepted")
	}
	if res := s.SetDeviceName("office"); !res.Success {
		t.Fatal(res.Error)
	}
	if err := s.SetSecretCode("1234"); err != nil {
		t.Fatal(err)
	}
	if !s.CheckSecretCode("1234") || s.CheckSecretCode("4321") {
		t.Fatal("secret code check mismatch")
	}

	reloaded := newState(t, &fakeControl{}, &fakeUploader{}, prefs, nil)
	if err := reloaded.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Settings()
	want := Settings{Port: 8080, SavePath: "/data/in", DeviceName: "office", HasSecretCode: true}
	if got != want {
		t.Fatalf("reloaded = %+v, want %+v", got, want)
	}
	if !reloaded.CheckSecretCode("1234") {
		t.Fatal("secret hash not persisted")
	}
}

func TestStateFollowsDirectServerChanges(t *testing.T) {
	ctl := &fakeControl{port: 3000}
	up := &fakeUploader{}
	s := newState(t, ctl, up, nil, nil)

	ctl.set(true)
	if _, err := s.SendMessage("started elsewhere"); err != nil {
		t.Fatalf("SendMessage after direct start: %v", err)
	}
	if !s.Snapshot().Running {
		t.Fatal("snapshot still reports stopped")
	}

	ctl.set(false)
	if _, err := s.SendFile(context.Background(), "/tmp/a.txt"); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("SendFile after direct stop: %v", err)
	}
	if !s.ToggleService(context.Background()) {
		t.Fatal("toggle after direct stop should start the service")
	}
	s.Wait()
	if !ctl.Status() {
		t.Fatal("server not started by toggle")
	}
}

func TestInitHashesLegacySecretCode(t *testing.T) {
	cases := map[string]string{
		"raw":  "4321",
		"json": `"4321"`,
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			fs, err := storage.NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
			if err != nil {
				t.Fatal(err)
			}
			fs.Set(storage.KeySecretCode, stored)
			prefs := storage.NewPrefs(fs)

			s := newState(t, &fakeControl{}, &fakeUploader{}, prefs, nil)
			if err := s.Init(context.Background()); err != nil {
				t.Fatal(err)
			}
			if !s.CheckSecretCode("4321") {
				t.Fatal("legacy secret code no longer matches")
			}
			v, _, err := prefs.LoadString(storage.KeySecretCode)
			if err != nil || v == "4321" {
				t.Fatalf("stored secret = %q, %v", v, err)
			}
		})
	}
}
