// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"strconv"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/verifier"
)

// DefaultMixName is the name of relays that do not announce one.
const DefaultMixName = "AN.ON Mix"

// MixType is the position a relay takes in its cascade.
type MixType int

// Relay positions.
const (
	FirstMix MixType = iota
	MiddleMix
	LastMix
)

// mixTypeStrings is a map of relay positions back to their element values.
var mixTypeStrings = map[MixType]string{
	FirstMix:  "FirstMix",
	MiddleMix: "MiddleMix",
	LastMix:   "LastMix",
}

// String returns the MixType in human-readable form.
func (t MixType) String() string {
	if s, ok := mixTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown MixType (%d)", int(t))
}

// parseMixType maps the element value to a MixType.
func parseMixType(s string) (MixType, bool) {
	for t, str := range mixTypeStrings {
		if str == s {
			return t, true
		}
	}
	return 0, false
}

// Operator describes the organization running a relay.
type Operator struct {
	Organization string
	Country      string
	Email        string
}

// Mix is the signed descriptor of a single relay.
type Mix struct {
	id               string
	name             string
	mixType          MixType
	dynamic          bool
	listeners        []ListenerInterface
	visibleAddresses []string
	operator         Operator
	country          string
	software         string
	status           CertStatus
	verification     verifier.Result
	fromCascade      bool
	version          int64
	lastUpdate       time.Time
	expire           time.Time
	doc              *codec.Node
}

// Ensure Mix implements the entrystore.Distributable interface.
var _ entrystore.Distributable = (*Mix)(nil)

func (m *Mix) ID() string            { return m.id }
func (m *Mix) Version() int64        { return m.version }
func (m *Mix) LastUpdate() time.Time { return m.lastUpdate }
func (m *Mix) ExpireTime() time.Time { return m.expire }
func (m *Mix) Kind() entrystore.Kind { return KindMix }
func (m *Mix) PostPath() string      { return "/mixinfo" }
func (m *Mix) PostData() []byte      { return m.doc.Document() }
func (m *Mix) Name() string          { return m.name }
func (m *Mix) Type() MixType         { return m.mixType }
func (m *Mix) Dynamic() bool         { return m.dynamic }
func (m *Mix) Operator() Operator    { return m.operator }
func (m *Mix) Country() string       { return m.country }
func (m *Mix) Software() string      { return m.software }
func (m *Mix) Status() CertStatus    { return m.status }
func (m *Mix) FromCascade() bool     { return m.fromCascade }
func (m *Mix) Node() *codec.Node     { return m.doc.Clone() }
func (m *Mix) VisibleAddresses() []string {
	return append([]string(nil), m.visibleAddresses...)
}

// PostEncoding returns the encoding used when posting the descriptor.
func (m *Mix) PostEncoding() codec.Encoding {
	return codec.EncodingZlib
}

// Listeners returns the interfaces the relay accepts connections on.
func (m *Mix) Listeners() []ListenerInterface {
	return append([]ListenerInterface(nil), m.listeners...)
}

// Verification returns the raw verification result of the descriptor.
func (m *Mix) Verification() verifier.Result {
	return m.verification
}

// ParseMix decodes a standalone relay descriptor.
func (p *Parser) ParseMix(n *codec.Node) (*Mix, error) {
	return p.parseMix(n, false)
}

// parseMix decodes a Mix element.  Members of cascade descriptors are parsed
// with fromCascade set, which relaxes the elements a relay must announce
// about itself.
func (p *Parser) parseMix(n *codec.Node, fromCascade bool) (*Mix, error) {
	if err := expectRoot(n, "Mix"); err != nil {
		return nil, err
	}
	id, _ := n.Attr("id")
	if id == "" {
		return nil, ruleError(ErrMalformedDescriptor, "mix without id")
	}

	now := p.cfg.Now()
	m := &Mix{
		id:          id,
		name:        DefaultMixName,
		fromCascade: fromCascade,
		expire:      now.Add(p.cfg.MixTTL),
		doc:         n.Clone(),
	}
	if name, ok := n.ChildText("Name"); ok && name != "" {
		m.name = name
	}

	typeText, ok := n.ChildText("MixType")
	switch {
	case ok:
		if m.mixType, ok = parseMixType(typeText); !ok {
			str := fmt.Sprintf("mix %s has unknown type %q", id, typeText)
			return nil, ruleError(ErrMalformedDescriptor, str)
		}
	case !fromCascade:
		str := fmt.Sprintf("mix %s without MixType", id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	if dyn, ok := n.ChildText("Dynamic"); ok {
		m.dynamic, _ = strconv.ParseBool(dyn)
	}

	if sw := n.Path("Software", "Version"); sw != nil {
		m.software = sw.Text()
	} else if !fromCascade {
		str := fmt.Sprintf("mix %s without Software", id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}

	lastUpdate, ok, err := parseMillisText(n, "LastUpdate")
	switch {
	case err != nil:
		return nil, err
	case ok:
		m.lastUpdate = lastUpdate
		m.version = toMillis(lastUpdate)
	case !fromCascade:
		str := fmt.Sprintf("mix %s without LastUpdate", id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	default:
		m.lastUpdate = now.Add(-p.cfg.MixTTL)
	}

	m.listeners = parseListeners(n.Child("ListenerInterfaces"))
	if vis := n.Path("Proxies", "Proxy", "VisibleAddresses"); vis != nil {
		for _, addr := range vis.ChildrenNamed("VisibleAddress") {
			if host, _ := addr.ChildText("Host"); host != "" {
				m.visibleAddresses = append(m.visibleAddresses, host)
			}
		}
	}
	if op := n.Child("Operator"); op != nil {
		m.operator.Organization, _ = op.ChildText("Organisation")
		m.operator.Country, _ = op.ChildText("CountryCode")
		m.operator.Email, _ = op.ChildText("EMail")
	}
	if loc := n.Path("Location", "Country"); loc != nil {
		m.country = loc.Text()
	}

	m.verification = p.verify(n, now)
	m.status = statusOf(m.verification, id, true)
	if m.verification.HasPath {
		// Certified values take precedence over self-declared ones.
		if org := m.verification.Issuer.Organization; org != "" {
			m.operator.Organization = org
		}
		if c := m.verification.Issuer.Country; c != "" {
			m.operator.Country = c
		}
		if c := m.verification.Subject.Country; c != "" {
			m.country = c
		}
	}
	return m, nil
}

// MixDescriptor holds the announced properties of a relay and builds the
// corresponding document.
type MixDescriptor struct {
	ID               string
	Name             string
	Type             MixType
	Dynamic          bool
	Listeners        []ListenerInterface
	VisibleAddresses []string
	Operator         Operator
	Country          string
	Software         string
	LastUpdate       time.Time
}

// Node returns the unsigned Mix document.
func (d *MixDescriptor) Node() *codec.Node {
	n := codec.NewNode("Mix")
	n.SetAttr("id", d.ID)
	if d.Name != "" {
		n.AddText("Name", d.Name)
	}
	if d.Operator != (Operator{}) {
		op := n.AddChild(codec.NewNode("Operator"))
		op.AddText("Organisation", d.Operator.Organization)
		op.AddText("CountryCode", d.Operator.Country)
		op.AddText("EMail", d.Operator.Email)
	}
	if d.Country != "" {
		n.AddChild(codec.NewNode("Location")).AddText("Country", d.Country)
	}
	n.AddChild(codec.NewNode("Software")).AddText("Version", d.Software)
	n.AddText("MixType", d.Type.String())
	if d.Dynamic {
		n.AddText("Dynamic", "true")
	}
	if len(d.Listeners) > 0 {
		n.AddChild(listenersNode(d.Listeners))
	}
	if len(d.VisibleAddresses) > 0 {
		vis := n.AddChild(codec.NewNode("Proxies")).
			AddChild(codec.NewNode("Proxy")).
			AddChild(codec.NewNode("VisibleAddresses"))
		for _, host := range d.VisibleAddresses {
			vis.AddChild(codec.NewNode("VisibleAddress")).AddText("Host", host)
		}
	}
	n.AddText("LastUpdate", strconv.FormatInt(toMillis(d.LastUpdate), 10))
	return n
}
