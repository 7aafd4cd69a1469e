// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// withArgs runs loadConfig with the passed command line arguments.  The
// testing flags are removed from the command line so go-flags does not reject
// them.
func withArgs(t *testing.T, args ...string) (*config, error) {
	t.Helper()

	old := os.Args
	os.Args = append([]string{"infoserviced"}, args...)
	defer func() { os.Args = old }()

	cfg, _, err := loadConfig("infoserviced")
	return cfg, err
}

// TestLoadConfig ensures the defaults and command line overrides are applied
// and that the default configuration file is created in the home directory.
func TestLoadConfig(t *testing.T) {
	home := t.TempDir()
	cfg, err := withArgs(t, "--appdata="+home, "--nofilelogging")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(home, defaultDataDirname); cfg.DataDir != want {
		t.Errorf("unexpected data dir: got %s want %s", cfg.DataDir, want)
	}
	if !fileExists(filepath.Join(home, defaultConfigFilename)) {
		t.Error("default config file was not created")
	}
	wantListen := []string{":" + defaultListenPort}
	if !reflect.DeepEqual(cfg.Listeners, wantListen) {
		t.Errorf("unexpected listeners: got %v want %v", cfg.Listeners,
			wantListen)
	}
	if cfg.SyncInterval != defaultSyncInterval {
		t.Errorf("unexpected sync interval: got %v want %v",
			cfg.SyncInterval, defaultSyncInterval)
	}
	if cfg.proxy != nil || cfg.signer != nil {
		t.Error("unexpected proxy or signer without options")
	}

	cfg, err = withArgs(t, "--appdata="+home, "--nofilelogging",
		"--listen=127.0.0.1", "--peer=10.0.0.1", "--peer=http://is.example:80/",
		"--syncinterval=1m", "--proxy=127.0.0.1:9050",
		"--signingkey="+strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"127.0.0.1:" + defaultListenPort}; !reflect.DeepEqual(cfg.Listeners, want) {
		t.Errorf("unexpected listeners: got %v want %v", cfg.Listeners, want)
	}
	wantPeers := []string{"http://10.0.0.1:" + defaultListenPort,
		"http://is.example:80"}
	if !reflect.DeepEqual(cfg.Peers, wantPeers) {
		t.Errorf("unexpected peers: got %v want %v", cfg.Peers, wantPeers)
	}
	if cfg.SyncInterval != time.Minute {
		t.Errorf("unexpected sync interval: got %v", cfg.SyncInterval)
	}
	if cfg.proxy == nil || cfg.proxy.Addr != "127.0.0.1:9050" {
		t.Errorf("unexpected proxy: %v", cfg.proxy)
	}
	if cfg.signer == nil {
		t.Error("signer was not created")
	}
}

// TestLoadConfigErrors ensures invalid options are rejected.
func TestLoadConfigErrors(t *testing.T) {
	home := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{{
		name: "negative sync interval",
		args: []string{"--syncinterval=-1s"},
	}, {
		name: "zero probe timeout",
		args: []string{"--probetimeout=0s"},
	}, {
		name: "zero body size",
		args: []string{"--maxbodysize=0"},
	}, {
		name: "proxy without port",
		args: []string{"--proxy=127.0.0.1"},
	}, {
		name: "malformed signing key",
		args: []string{"--signingkey=zz"},
	}, {
		name: "short operator identity",
		args: []string{"--trustedoperator=abcd"},
	}, {
		name: "unknown subsystem",
		args: []string{"--debuglevel=XXXX=debug"},
	}}

	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		args := append([]string{"--appdata=" + home, "--nofilelogging"},
			test.args...)
		if _, err := withArgs(t, args...); err == nil {
			t.Errorf("%s: did not receive expected error", test.name)
		}
	}
}

// TestNormalizePeerURLs ensures neighbour addresses are turned into unique
// base URLs.
func TestNormalizePeerURLs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{{
		in:   nil,
		want: []string{},
	}, {
		in:   []string{"is.example"},
		want: []string{"http://is.example:" + defaultListenPort},
	}, {
		in:   []string{"is.example:8080", "http://is.example:8080/"},
		want: []string{"http://is.example:8080"},
	}, {
		in:   []string{"https://a.example/", "10.0.0.2"},
		want: []string{"https://a.example", "http://10.0.0.2:" + defaultListenPort},
	}}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		got := normalizePeerURLs(test.in)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("#%d\n got: %v want: %v", i, got, test.want)
		}
	}
}

// TestParseListeners ensures listen addresses are expanded by address family.
func TestParseListeners(t *testing.T) {
	tests := []struct {
		addrs   []string
		want    []string
		invalid bool
	}{{
		addrs: []string{":6543"},
		want:  []string{"tcp4 :6543", "tcp6 :6543"},
	}, {
		addrs: []string{"127.0.0.1:6543", "[::1]:6543"},
		want:  []string{"tcp4 127.0.0.1:6543", "tcp6 [::1]:6543"},
	}, {
		addrs:   []string{"localhost:6543"},
		invalid: true,
	}}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		addrs, err := parseListeners(test.addrs)
		if test.invalid {
			if err == nil {
				t.Errorf("#%d: did not receive expected error", i)
			}
			continue
		}
		if err != nil {
			t.Errorf("#%d: unexpected error: %v", i, err)
			continue
		}
		got := make([]string, 0, len(addrs))
		for _, addr := range addrs {
			got = append(got, addr.Network()+" "+addr.String())
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("#%d\n got: %v want: %v", i, got, test.want)
		}
	}
}
