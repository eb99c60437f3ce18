package cmd

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/qri-io/ioes"
)

func TestNewMigratoCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams, _, _, _ := ioes.NewTestIOStreams()
	root := NewMigratoCommand(ctx, nil, streams)

	want := []string{"serve", "submit", "list", "status", "logs", "pause", "resume", "cancel", "retry", "sync", "remove", "config", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q", name)
		}
	}
}

func TestStandardConfigPath(t *testing.T) {
	prev := os.Getenv("MIGRATO_PATH")
	defer os.Setenv("MIGRATO_PATH", prev)

	os.Setenv("MIGRATO_PATH", "/tmp/migrato-test")
	got := StandardConfigPath()
	want := filepath.Join("/tmp/migrato-test", "config.yaml")
	if got != want {
		t.Errorf("config path, expected: %s, got: %s", want, got)
	}
}

func TestReadJSONFlag(t *testing.T) {
	if data, err := readJSONFlag(""); err != nil || data != nil {
		t.Errorf("expected empty path to yield nil, got: %s, %s", data, err)
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := ioutil.WriteFile(good, []byte(`{"branches":"folders"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readJSONFlag(good); err != nil {
		t.Errorf("error reading valid json: %s", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := ioutil.WriteFile(bad, []byte(`{nope`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readJSONFlag(bad); err == nil {
		t.Error("expected invalid json to error")
	}

	if _, err := readJSONFlag(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected missing file to error")
	}
}
