// Copyright (c) 2017-2022 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

import (
	_ "embed"
)

// sampleInfoservicedConf is a string containing the commented example config
// for infoserviced.
//
//go:embed sample-infoserviced.conf
var sampleInfoservicedConf string

// Infoserviced returns a string containing the commented example config for
// infoserviced.
func Infoserviced() string {
	return sampleInfoservicedConf
}
