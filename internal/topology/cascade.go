// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/verifier"
)

// maxUsersLimit caps the announced user limit.  Larger values mean unlimited.
const maxUsersLimit = 9999

// Cascade is the signed descriptor of an ordered chain of relays.
type Cascade struct {
	id              string
	name            string
	context         string
	maxUsers        int
	userDefined     bool
	fromCascade     bool
	payment         bool
	protocolVersion string
	listeners       []ListenerInterface
	mixIDs          []string
	mixes           []*Mix
	status          CertStatus
	verification    verifier.Result
	operators       int
	countries       int
	version         int64
	lastUpdate      time.Time
	expire          time.Time
	doc             *codec.Node
}

// Ensure Cascade implements the entrystore.Distributable interface.
var _ entrystore.Distributable = (*Cascade)(nil)

func (c *Cascade) ID() string            { return c.id }
func (c *Cascade) Version() int64        { return c.version }
func (c *Cascade) LastUpdate() time.Time { return c.lastUpdate }
func (c *Cascade) ExpireTime() time.Time { return c.expire }
func (c *Cascade) Kind() entrystore.Kind { return KindCascade }
func (c *Cascade) PostPath() string      { return "/cascade" }
func (c *Cascade) PostData() []byte      { return c.doc.Document() }

// PostEncoding returns the encoding used when posting the descriptor.
func (c *Cascade) PostEncoding() codec.Encoding {
	return codec.EncodingZlib
}

// Name returns the display name of the cascade.
func (c *Cascade) Name() string { return c.name }

// Context returns the service context the cascade belongs to.
func (c *Cascade) Context() string { return c.context }

// MaxUsers returns the announced user limit.  Zero means unlimited.
func (c *Cascade) MaxUsers() int { return c.maxUsers }

// UserDefined returns whether the cascade was configured locally rather than
// announced by its first relay.
func (c *Cascade) UserDefined() bool { return c.userDefined }

// FromCascade returns whether the descriptor was posted directly by the
// relays of the cascade.
func (c *Cascade) FromCascade() bool { return c.fromCascade }

// PaymentRequired returns whether the cascade charges for its service.
func (c *Cascade) PaymentRequired() bool { return c.payment }

// ProtocolVersion returns the announced relay protocol version.
func (c *Cascade) ProtocolVersion() string { return c.protocolVersion }

// Status returns the cryptographic status of the descriptor.
func (c *Cascade) Status() CertStatus { return c.status }

// Verification returns the raw verification result of the descriptor.
func (c *Cascade) Verification() verifier.Result { return c.verification }

// OperatorDiversity returns the number of independent operators.
func (c *Cascade) OperatorDiversity() int { return c.operators }

// CountryDiversity returns the number of distinct jurisdictions.
func (c *Cascade) CountryDiversity() int { return c.countries }

// Node returns a copy of the descriptor document.
func (c *Cascade) Node() *codec.Node { return c.doc.Clone() }

// Listeners returns the interfaces of the first relay clients connect to.
func (c *Cascade) Listeners() []ListenerInterface {
	return append([]ListenerInterface(nil), c.listeners...)
}

// MixIDs returns the ordered ids of the member relays.
func (c *Cascade) MixIDs() []string {
	return append([]string(nil), c.mixIDs...)
}

// NumMixes returns the number of member relays.
func (c *Cascade) NumMixes() int { return len(c.mixIDs) }

// Mix returns the resolved descriptor of the member at the index, or nil when
// the member could not be parsed.
func (c *Cascade) Mix(i int) *Mix {
	if i < 0 || i >= len(c.mixes) {
		return nil
	}
	return c.mixes[i]
}

// MixIDString returns the member ids joined in order.  Two cascades with the
// same string consist of the same relays in the same order.
func (c *Cascade) MixIDString() string {
	return strings.Join(c.mixIDs, ";")
}

// SameMixes returns whether the other cascade has the same member relays in
// the same order.
func (c *Cascade) SameMixes(o *Cascade) bool {
	if len(c.mixIDs) != len(o.mixIDs) {
		return false
	}
	for i := range c.mixIDs {
		if c.mixIDs[i] != o.mixIDs[i] {
			return false
		}
	}
	return true
}

// ContainsMix returns whether the relay is a member of the cascade.
func (c *Cascade) ContainsMix(mixID string) bool {
	for _, id := range c.mixIDs {
		if id == mixID {
			return true
		}
	}
	return false
}

// ParseCascade decodes a cascade descriptor as announced by a first relay or
// gossiped by a peer.
func (p *Parser) ParseCascade(n *codec.Node) (*Cascade, error) {
	return p.parseCascade(n, "")
}

// ParseCascadeFromRelay decodes a stripped cascade descriptor that was posted
// directly by the relay with the given id.  Such descriptors need not carry
// listener interfaces nor a LastUpdate.
func (p *Parser) ParseCascadeFromRelay(n *codec.Node, mixID string) (*Cascade, error) {
	if mixID == "" {
		return nil, ruleError(ErrMalformedDescriptor, "relay id required")
	}
	return p.parseCascade(n, mixID)
}

// parseCascade decodes a MixCascade element.  A non-empty relayID marks a
// descriptor received directly from that relay.
func (p *Parser) parseCascade(n *codec.Node, relayID string) (*Cascade, error) {
	if err := expectRoot(n, "MixCascade"); err != nil {
		return nil, err
	}

	now := p.cfg.Now()
	c := &Cascade{
		fromCascade: relayID != "",
		userDefined: n.AttrBool("userDefined", false),
		context:     DefaultContext,
		expire:      now.Add(p.cfg.CascadeTTL),
		doc:         n.Clone(),
	}
	if ctx, ok := n.Attr("context"); ok && ctx != "" {
		c.context = ctx
	}
	c.maxUsers = int(n.AttrInt64("maxUsers", 0))
	if c.maxUsers > maxUsersLimit {
		c.maxUsers = maxUsersLimit
	}
	if c.maxUsers < 0 {
		c.maxUsers = 0
	}
	if pv, ok := n.ChildText("MixProtocolVersion"); ok {
		c.protocolVersion = pv
	}
	if pay := n.Child("Payment"); pay != nil {
		c.payment = pay.AttrBool("required", false)
	}

	// The id falls back to the first member and then to the posting relay.
	mixesNode := n.Child("Mixes")
	c.id, _ = n.Attr("id")
	if c.id == "" && mixesNode != nil {
		if first := mixesNode.Child("Mix"); first != nil {
			c.id, _ = first.Attr("id")
		}
	}
	if c.id == "" {
		c.id = relayID
	}
	if c.id == "" {
		return nil, ruleError(ErrMalformedDescriptor, "cascade without id")
	}

	if !c.fromCascade {
		c.listeners = parseListeners(n.Path("Network", "ListenerInterfaces"))
		if len(c.listeners) == 0 {
			str := fmt.Sprintf("cascade %s without listener interfaces", c.id)
			return nil, ruleError(ErrMalformedDescriptor, str)
		}
	}

	if mixesNode == nil {
		str := fmt.Sprintf("cascade %s without Mixes", c.id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	countText, _ := mixesNode.Attr("count")
	declared, err := strconv.Atoi(strings.TrimSpace(countText))
	if err != nil {
		str := fmt.Sprintf("cascade %s with malformed mix count %q", c.id,
			countText)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	mixNodes := mixesNode.ChildrenNamed("Mix")
	if len(mixNodes) == 0 || len(mixNodes) != declared {
		str := fmt.Sprintf("cascade %s declares %d mixes but lists %d", c.id,
			declared, len(mixNodes))
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	c.mixIDs = make([]string, 0, len(mixNodes))
	c.mixes = make([]*Mix, 0, len(mixNodes))
	for i, mn := range mixNodes {
		mixID, _ := mn.Attr("id")
		if i == 0 && !c.userDefined && mixID != c.id {
			str := fmt.Sprintf("cascade id %s is not the id of its first "+
				"mix %s", c.id, mixID)
			return nil, ruleError(ErrMalformedDescriptor, str)
		}
		c.mixIDs = append(c.mixIDs, mixID)

		// A member that fails to parse leaves an unresolved slot.
		m, err := p.parseMix(mn, true)
		if err != nil {
			log.Debugf("Unresolved mix %s in cascade %s: %v", mixID, c.id, err)
			m = nil
		}
		c.mixes = append(c.mixes, m)
	}

	if name, ok := n.ChildText("Name"); ok && name != "" {
		c.name = name
	} else if !c.fromCascade {
		c.name = c.nameFromMixes()
	}

	lastUpdate, ok, err := parseMillisText(n, "LastUpdate")
	switch {
	case err != nil:
		return nil, err
	case ok:
		c.lastUpdate = lastUpdate
	case !c.fromCascade:
		str := fmt.Sprintf("cascade %s without LastUpdate", c.id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	default:
		c.lastUpdate = now.Add(-p.cfg.CascadeTTL)
	}
	if c.fromCascade {
		c.version = n.AttrInt64("serial", math.MinInt64)
		c.id = relayID
	} else {
		c.version = n.AttrInt64("serial", toMillis(c.lastUpdate))
	}

	c.verification = p.verify(n, now)
	signer := c.mixIDs[0]
	if c.fromCascade {
		signer = relayID
	}
	c.status = statusOf(c.verification, signer, !c.userDefined)
	if c.userDefined && c.verification.Identity == "" {
		// Locally defined cascades are trusted by the node that holds them.
		c.status.Verified = true
	}
	c.operators, c.countries = diversity(c.mixes)
	return c, nil
}

// nameFromMixes derives a display name from the member relay names.
func (c *Cascade) nameFromMixes() string {
	var names []string
	for _, m := range c.mixes {
		if m != nil && m.name != DefaultMixName {
			names = append(names, m.name)
		}
	}
	if len(names) == 0 {
		return c.id
	}
	return strings.Join(names, " - ")
}

// diversity counts the independent operators and jurisdictions of the member
// relays.  Only resolved members with an operator certificate count.  An
// operator counts once per organization and member id.  A member adds a
// jurisdiction only when both its own and its operator's country are known
// and neither was seen before.  Both counts are at least one.
func diversity(mixes []*Mix) (int, int) {
	operators := make(map[string]struct{})
	mixIDs := make(map[string]struct{})
	countries := make(map[string]struct{})
	var numOperators, numCountries int
	for _, m := range mixes {
		if m == nil || !m.verification.HasPath {
			continue
		}
		org := m.verification.Issuer.Organization
		if org == "" {
			continue
		}
		if _, ok := operators[org]; ok {
			continue
		}
		if _, ok := mixIDs[m.id]; ok {
			continue
		}

		opCountry := m.verification.Issuer.Country
		mixCountry := m.verification.Subject.Country
		if opCountry != "" && mixCountry != "" {
			_, seenOp := countries[opCountry]
			_, seenMix := countries[mixCountry]
			if !seenOp && !seenMix {
				numCountries++
			}
		}
		if opCountry != "" {
			countries[opCountry] = struct{}{}
		}
		if mixCountry != "" {
			countries[mixCountry] = struct{}{}
		}

		operators[org] = struct{}{}
		mixIDs[m.id] = struct{}{}
		numOperators++
	}
	if numOperators == 0 {
		numOperators = 1
	}
	if numCountries == 0 {
		numCountries = 1
	}
	return numOperators, numCountries
}

// CascadeDescriptor holds the announced properties of a cascade and builds the
// corresponding document.
type CascadeDescriptor struct {
	ID          string
	Name        string
	Context     string
	UserDefined bool
	MaxUsers    int
	Payment     bool
	Listeners   []ListenerInterface

	// Mixes are the member documents in order.  They are usually signed by
	// their relays.
	Mixes []*codec.Node

	LastUpdate time.Time

	// Serial overrides the version when non-zero.  The version otherwise
	// equals LastUpdate.
	Serial int64
}

// Node returns the unsigned MixCascade document.
func (d *CascadeDescriptor) Node() *codec.Node {
	n := codec.NewNode("MixCascade")
	if d.ID != "" {
		n.SetAttr("id", d.ID)
	}
	if d.Serial != 0 {
		n.SetAttr("serial", strconv.FormatInt(d.Serial, 10))
	}
	if d.UserDefined {
		n.SetAttr("userDefined", "true")
	}
	if d.Context != "" {
		n.SetAttr("context", d.Context)
	}
	if d.MaxUsers > 0 {
		n.SetAttr("maxUsers", strconv.Itoa(d.MaxUsers))
	}
	if d.Name != "" {
		n.AddText("Name", d.Name)
	}
	if len(d.Listeners) > 0 {
		n.AddChild(codec.NewNode("Network")).AddChild(listenersNode(d.Listeners))
	}
	mixes := n.AddChild(codec.NewNode("Mixes"))
	mixes.SetAttr("count", strconv.Itoa(len(d.Mixes)))
	for _, m := range d.Mixes {
		mixes.AddChild(m.Clone())
	}
	if d.Payment {
		n.AddChild(codec.NewNode("Payment")).SetAttr("required", "true")
	}
	n.AddText("LastUpdate", strconv.FormatInt(toMillis(d.LastUpdate), 10))
	return n
}
