// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
)

// VirtualCascade is a cascade proposed by the last relay of a dynamic chain
// that has not been announced by its first relay yet.  It shares the id space
// of authoritative cascades but lives in its own store and is never gossiped.
type VirtualCascade struct {
	cascade *Cascade
}

// Ensure VirtualCascade implements the entrystore.Entry interface.
var _ entrystore.Entry = (*VirtualCascade)(nil)

// NewVirtualCascade wraps the proposed cascade.
func NewVirtualCascade(c *Cascade) *VirtualCascade {
	return &VirtualCascade{cascade: c}
}

func (v *VirtualCascade) ID() string            { return v.cascade.id }
func (v *VirtualCascade) Version() int64        { return v.cascade.version }
func (v *VirtualCascade) LastUpdate() time.Time { return v.cascade.lastUpdate }
func (v *VirtualCascade) ExpireTime() time.Time { return v.cascade.expire }
func (v *VirtualCascade) Kind() entrystore.Kind { return KindVirtualCascade }

// Cascade returns the proposed cascade.
func (v *VirtualCascade) Cascade() *Cascade { return v.cascade }

// ParseVirtualCascade decodes a cascade proposal posted by a last relay.
// Proposals must carry a verified signature of one of their member relays.
func (p *Parser) ParseVirtualCascade(n *codec.Node) (*VirtualCascade, error) {
	c, err := p.ParseCascade(n)
	if err != nil {
		return nil, err
	}
	res := c.verification
	if !res.Verified || !c.ContainsMix(res.Identity) {
		str := fmt.Sprintf("cascade proposal %s is not signed by a member "+
			"mix", c.id)
		return nil, ruleError(ErrVerificationFailure, str)
	}
	return NewVirtualCascade(c), nil
}
