// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package dynamic reconciles the cascades proposed for dynamic relays with the
cascades their first relays announce.

The last relay of a dynamically assembled cascade posts the proposed cascade
before the cascade is running.  Such proposals are held as virtual cascades.
Relays poll whether a new assignment is available for them and fetch the
proposal to reconfigure.  Once the first relay announces a cascade with the
same members the proposal is superseded and removed.
*/
package dynamic
