// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/anonnet/infoserviced/internal/version"
)

// softMemLimit bounds the heap growth caused by bursts of posted documents.
const softMemLimit = 512 * (1 << 20)

// infoservicedMain is the real main function for infoserviced.  It is
// necessary to work around the fact that deferred functions do not run when
// os.Exit() is called.
func infoservicedMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	cfg, _, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx := shutdownListener()
	defer isvcLog.Info("Shutdown complete")

	isvcLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	isvcLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLogging {
		isvcLog.Info("File logging disabled")
	}
	debug.SetMemoryLimit(softMemLimit)

	// Enable http profile server if requested.
	var profiler profileServer
	defer profiler.Stop()
	if cfg.Profile != "" {
		if err := profiler.Start(cfg.Profile); err != nil {
			isvcLog.Warnf("unable to start profile server: %v", err)
			return err
		}
	}

	if shutdownRequested(ctx) {
		return nil
	}

	svr, err := newServer(cfg)
	if err != nil {
		isvcLog.Errorf("Unable to start server: %v", err)
		return err
	}

	// Run the server.  This will block until the context is cancelled which
	// happens when the interrupt signal is received.
	svr.Run(ctx)
	srvrLog.Infof("Server shutdown complete")
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := infoservicedMain(); err != nil {
		os.Exit(1)
	}
}
