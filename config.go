// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/anonnet/infoserviced/internal/connectivity"
	"github.com/anonnet/infoserviced/internal/distributor"
	"github.com/anonnet/infoserviced/internal/dynamic"
	"github.com/anonnet/infoserviced/internal/infoserver"
	"github.com/anonnet/infoserviced/internal/verifier"
	"github.com/anonnet/infoserviced/internal/version"
	"github.com/anonnet/infoserviced/sampleconfig"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/go-socks/socks"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "infoserviced.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "infoserviced.log"
	defaultListenPort     = "6543"
	defaultSyncInterval   = 10 * time.Minute
)

var (
	defaultHomeDir    = appDataDir("infoserviced")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for infoserviced.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir       string `short:"A" long:"appdata" description:"Path to application home directory" env:"INFOSERVICED_APPDATA"`
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string `short:"b" long:"datadir" description:"Directory to store the entry archive" env:"INFOSERVICED_DATADIR"`
	LogDir        string `long:"logdir" description:"Directory to log output" env:"INFOSERVICED_LOGDIR"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems" env:"INFOSERVICED_DEBUGLEVEL"`
	Profile       string `long:"profile" description:"Enable HTTP profiling on given [addr:]port -- NOTE port must be between 1024 and 65536"`
	NoArchive     bool   `long:"noarchive" description:"Do not archive entries across restarts"`

	// Command server.
	Listeners   []string `long:"listen" description:"Add an interface/port to listen for commands (default all interfaces port: 6543)" env:"INFOSERVICED_LISTEN" env-delim:","`
	MaxBodySize int64    `long:"maxbodysize" description:"Maximum decoded size in bytes of posted documents"`

	// Neighbour infoservices.
	Peers        []string      `long:"peer" description:"Add a neighbour infoservice to distribute to and synchronize with" env:"INFOSERVICED_PEER" env-delim:","`
	Proxy        string        `long:"proxy" description:"Reach neighbours via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser    string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass    string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	SyncInterval time.Duration `long:"syncinterval" description:"Interval between serial synchronizations with neighbours (0 to disable)"`
	MaxDistQueue int           `long:"maxdistqueue" description:"Maximum number of entries waiting for distribution"`
	DistTimeout  time.Duration `long:"disttimeout" description:"Timeout of a post to a neighbour"`

	// Dynamic cascades.
	ProbeTimeout      time.Duration `long:"probetimeout" description:"Time a relay has to answer a connectivity probe"`
	ReconcileInterval time.Duration `long:"reconcileinterval" description:"Interval between removals of superseded cascade proposals"`

	// Signatures.
	SigningKey       string   `long:"signingkey" default-mask:"-" description:"Hex encoded private key used to sign status answers" env:"INFOSERVICED_SIGNINGKEY"`
	TrustedOperators []string `long:"trustedoperator" description:"Add the identity of an operator whose certificates are trusted (hex encoded blake256 hash of the operator public key)"`

	// The following fields are set from the options above.
	proxy  *socks.Proxy
	signer *verifier.Signer
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// appDataDir returns the default application data directory of the named
// application: a dot directory in the home directory on POSIX systems and a
// directory in the local application data directory on Windows.
func appDataDir(appName string) string {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, strings.ToUpper(appName[:1])+appName[1:])
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "."+appName)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser to
	// otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, addr := range addrs {
		addr = normalizeAddress(addr, defaultPort)
		if _, ok := seen[addr]; !ok {
			result = append(result, addr)
			seen[addr] = struct{}{}
		}
	}
	return result
}

// normalizePeerURLs returns the base URLs of the neighbour infoservices.  Plain
// addresses are reached over http on the default port.
func normalizePeerURLs(peers []string) []string {
	result := make([]string, 0, len(peers))
	seen := map[string]struct{}{}
	for _, peer := range peers {
		if !strings.Contains(peer, "://") {
			peer = "http://" + normalizeAddress(peer, defaultListenPort)
		}
		peer = strings.TrimRight(peer, "/")
		if _, ok := seen[peer]; !ok {
			result = append(result, peer)
			seen[peer] = struct{}{}
		}
	}
	return result
}

// createDefaultConfigFile creates a config file at the provided path with the
// commented sample configuration.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.Infoserviced()), 0600)
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in infoserviced functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		HomeDir:           defaultHomeDir,
		ConfigFile:        defaultConfigFile,
		DataDir:           defaultDataDir,
		LogDir:            defaultLogDir,
		DebugLevel:        defaultLogLevel,
		MaxBodySize:       infoserver.DefaultMaxBodySize,
		SyncInterval:      defaultSyncInterval,
		MaxDistQueue:      distributor.DefaultMaxPending,
		DistTimeout:       distributor.DefaultTimeout,
		ProbeTimeout:      connectivity.DefaultTimeout,
		ReconcileInterval: dynamic.DefaultInterval,
	}

	// Pre-parse the command line options to see if an alternative config file
	// or the version flag was specified.  Any errors aside from the help
	// message error can be ignored here since they will be caught by the
	// final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS,
			runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory and dependent defaults when specified.
	usingDefaultConfig := preCfg.ConfigFile == defaultConfigFile
	if preCfg.HomeDir != defaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	if usingDefaultConfig && !fileExists(configFile) {
		if err := createDefaultConfigFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config file: "+
				"%v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			err = fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		if err := initLogRotator(logFile); err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", appName, err)
	}

	// Default to listening on all interfaces.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", defaultListenPort)}
	}
	cfg.Listeners = normalizeAddresses(cfg.Listeners, defaultListenPort)
	cfg.Peers = normalizePeerURLs(cfg.Peers)

	// Validate durations and limits.
	switch {
	case cfg.SyncInterval < 0:
		return nil, nil, fmt.Errorf("%s: the sync interval may not be "+
			"negative", appName)
	case cfg.ProbeTimeout <= 0:
		return nil, nil, fmt.Errorf("%s: the probe timeout must be positive",
			appName)
	case cfg.ReconcileInterval <= 0:
		return nil, nil, fmt.Errorf("%s: the reconcile interval must be "+
			"positive", appName)
	case cfg.MaxDistQueue <= 0:
		return nil, nil, fmt.Errorf("%s: the distribution queue size must be "+
			"positive", appName)
	case cfg.MaxBodySize <= 0:
		return nil, nil, fmt.Errorf("%s: the maximum body size must be "+
			"positive", appName)
	}

	// Setup the proxy used to reach the neighbours.
	if cfg.Proxy != "" {
		if _, _, err := net.SplitHostPort(cfg.Proxy); err != nil {
			return nil, nil, fmt.Errorf("%s: proxy address '%s' is invalid: "+
				"%w", appName, cfg.Proxy, err)
		}
		cfg.proxy = &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
	}

	// Parse the signing key and the trusted operator keys.
	if cfg.SigningKey != "" {
		key, err := verifier.ParsePrivateKey(cfg.SigningKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: invalid signing key: %w",
				appName, err)
		}
		cfg.signer = verifier.NewSigner(key)
	}
	for _, op := range cfg.TrustedOperators {
		b, err := hex.DecodeString(strings.TrimSpace(op))
		if err != nil || len(b) != blake256.Size {
			return nil, nil, fmt.Errorf("%s: invalid trusted operator "+
				"identity %q", appName, op)
		}
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid options.
	if configFileError != nil {
		isvcLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
