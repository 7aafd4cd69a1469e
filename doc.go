// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2022 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
infoserviced is an infoservice node of an anonymity network.  It accepts the
signed descriptors of mix cascades, mixes, performance measurements, software
versions, and terms and conditions, keeps the currently valid ones in memory,
forwards them to its neighbour infoservices, and answers the queries of
clients and relays over HTTP.

The default options are sane for most users.  The long form of all options
(except -C) can be specified in a configuration file that is automatically
parsed when infoserviced starts up.  By default, the configuration file is
located at ~/.infoserviced/infoserviced.conf on POSIX-style operating systems
and %LOCALAPPDATA%\Infoserviced\infoserviced.conf on Windows.  The -C
(--configfile) flag can be used to override this location.

Usage:

	infoserviced [OPTIONS]

Application Options:

	-V, --version               Display version information and exit
	-A, --appdata=              Path to application home directory
	-C, --configfile=           Path to configuration file
	-b, --datadir=              Directory to store the entry archive
	    --logdir=               Directory to log output
	    --nofilelogging         Disable file logging
	-d, --debuglevel=           Logging level for all subsystems {trace, debug,
	                            info, warn, error, critical} -- You may also
	                            specify <subsystem>=<level>,... to set the log
	                            level for individual subsystems -- Use show to
	                            list available subsystems (info)
	    --profile=              Enable HTTP profiling on given [addr:]port
	    --noarchive             Do not archive entries across restarts
	    --listen=               Add an interface/port to listen for commands
	                            (default all interfaces port: 6543)
	    --maxbodysize=          Maximum decoded size in bytes of posted
	                            documents (1048576)
	    --peer=                 Add a neighbour infoservice to distribute to and
	                            synchronize with
	    --proxy=                Reach neighbours via SOCKS5 proxy
	    --proxyuser=            Username for proxy server
	    --proxypass=            Password for proxy server
	    --syncinterval=         Interval between serial synchronizations with
	                            neighbours, 0 to disable (10m)
	    --maxdistqueue=         Maximum number of entries waiting for
	                            distribution (1000)
	    --disttimeout=          Timeout of a post to a neighbour (30s)
	    --probetimeout=         Time a relay has to answer a connectivity probe
	    --reconcileinterval=    Interval between removals of superseded cascade
	                            proposals
	    --signingkey=           Hex encoded private key used to sign status
	                            answers
	    --trustedoperator=      Add the identity of an operator whose
	                            certificates are trusted

Help Options:

	-h, --help                  Show this help message
*/
package main
