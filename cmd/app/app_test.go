package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lanshare/internal/api"
	"lanshare/internal/config"
	"lanshare/internal/peer"
	"lanshare/internal/session"
	"lanshare/internal/storage"
	"lanshare/internal/transfer"
)

func TestStdinPicker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	os.WriteFile(file, nil, 0o644)

	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"directory", dir + "\n", dir, false},
		{"cancel", "\n", "", false},
		{"eof", "", "", false},
		{"not a dir", file + "\n", "", true},
		{"missing", filepath.Join(dir, "nope") + "\n", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			p := stdinPicker{in: strings.NewReader(tc.input), out: &out}
			got, err := p.PickDirectory(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSendFiles(t *testing.T) {
	saveDir := t.TempDir()
	srv := transfer.NewServer(config.ServerConfig{SavePath: saveDir}, transfer.Options{
		ResolveIP: func() string { return "127.0.0.1" },
	})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop(context.Background())

	src := t.TempDir()
	var paths []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		p := filepath.Join(src, name)
		os.WriteFile(p, []byte(name), 0o644)
		paths = append(paths, p)
	}

	ep := peer.Endpoint{Host: "127.0.0.1", Port: srv.Port()}
	if err := sendFiles(context.Background(), peer.NewClient(nil), ep, paths, 2); err != nil {
		t.Fatal(err)
	}
	files, err := transfer.ListFiles(saveDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("received %d files, want 3", len(files))
	}

	if err := sendFiles(context.Background(), peer.NewClient(nil), ep, []string{filepath.Join(src, "missing")}, 1); err == nil {
		t.Fatal("missing file sent")
	}
}

func TestExplicitFlagsWinOverSavedPreferences(t *testing.T) {
	root := newRootCmd()
	serveCmd, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatal(err)
	}
	if err := serveCmd.ParseFlags([]string{"--port", "5050", "--name", "cli-name"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Server.Port = 5050
	cfg.Server.DeviceName = "cli-name"
	o := flagOverrides(serveCmd, cfg)
	if o.port == nil || o.deviceName == nil || o.savePath != nil {
		t.Fatalf("overrides = %+v", o)
	}

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatal(err)
	}
	prefs := storage.NewPrefs(store)
	prefs.Save(storage.KeyPort, 4000)
	prefs.Save(storage.KeyHostname, "saved-name")
	prefs.Save(storage.KeySavePath, "/saved/path")

	srv := transfer.NewServer(cfg.Server, transfer.Options{})
	state := session.New(api.NewControl(srv, nil), peer.NewClient(nil), nil, prefs, cfg.Server, session.Options{})
	t.Cleanup(state.Close)
	if err := state.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.apply(state); err != nil {
		t.Fatal(err)
	}

	got := state.Settings()
	if got.Port != 5050 || got.DeviceName != "cli-name" || got.SavePath != "/saved/path" {
		t.Fatalf("settings = %+v", got)
	}
	var port int
	if _, err := prefs.Load(storage.KeyPort, &port); err != nil || port != 5050 {
		t.Fatalf("stored port = %d, %v", port, err)
	}
}
