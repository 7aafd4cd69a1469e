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
	"github.com/anonnet/infoserviced/internal/version"
)

// SoftwareVersion announces the current release of a piece of client
// software.  The id names the software, such as "client".
type SoftwareVersion struct {
	id         string
	release    version.Semver
	url        string
	status     CertStatus
	version    int64
	lastUpdate time.Time
	expire     time.Time
	doc        *codec.Node
}

// Ensure SoftwareVersion implements the entrystore.Distributable interface.
var _ entrystore.Distributable = (*SoftwareVersion)(nil)

func (v *SoftwareVersion) ID() string              { return v.id }
func (v *SoftwareVersion) Version() int64          { return v.version }
func (v *SoftwareVersion) LastUpdate() time.Time   { return v.lastUpdate }
func (v *SoftwareVersion) ExpireTime() time.Time   { return v.expire }
func (v *SoftwareVersion) Kind() entrystore.Kind   { return KindSoftwareVersion }
func (v *SoftwareVersion) PostPath() string        { return "/version" }
func (v *SoftwareVersion) PostData() []byte        { return v.doc.Document() }
func (v *SoftwareVersion) Release() version.Semver { return v.release }
func (v *SoftwareVersion) DownloadURL() string     { return v.url }
func (v *SoftwareVersion) Status() CertStatus      { return v.status }
func (v *SoftwareVersion) Node() *codec.Node       { return v.doc.Clone() }

// PostEncoding returns the encoding used when posting the entry.
func (v *SoftwareVersion) PostEncoding() codec.Encoding {
	return codec.EncodingPlain
}

// ParseSoftwareVersion decodes a SoftwareVersion document.
func (p *Parser) ParseSoftwareVersion(n *codec.Node) (*SoftwareVersion, error) {
	if err := expectRoot(n, "SoftwareVersion"); err != nil {
		return nil, err
	}
	id, _ := n.Attr("id")
	if id == "" {
		return nil, ruleError(ErrMalformedDescriptor, "software version "+
			"without id")
	}
	now := p.cfg.Now()
	v := &SoftwareVersion{
		id:     id,
		expire: now.Add(p.cfg.VersionTTL),
		doc:    n.Clone(),
	}
	relText, _ := n.ChildText("Version")
	rel, err := version.Parse(relText)
	if err != nil {
		str := fmt.Sprintf("software version %s: %v", id, err)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	v.release = rel
	v.url, _ = n.ChildText("URL")

	lastUpdate, ok, err := parseMillisText(n, "LastUpdate")
	if err != nil {
		return nil, err
	}
	if !ok {
		str := fmt.Sprintf("software version %s without LastUpdate", id)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	v.lastUpdate = lastUpdate
	v.version = n.AttrInt64("serial", toMillis(lastUpdate))
	v.status = statusOf(p.verify(n, now), id, false)
	return v, nil
}

// SoftwareVersionNode returns the unsigned document announcing the release.
func SoftwareVersionNode(id string, release version.Semver, url string,
	lastUpdate time.Time) *codec.Node {

	n := codec.NewNode("SoftwareVersion")
	n.SetAttr("id", id)
	n.AddText("Version", release.String())
	if url != "" {
		n.AddText("URL", url)
	}
	n.AddText("LastUpdate", strconv.FormatInt(toMillis(lastUpdate), 10))
	return n
}

// termsDateLayout is the layout of the date attribute of terms documents.
const termsDateLayout = "20060102"

// TermsAndConditions are the terms of service an operator publishes in one
// language.  The id is the operator identity and the locale joined by an
// underscore.  Newer dates replace older terms.
type TermsAndConditions struct {
	operator   string
	locale     string
	date       time.Time
	status     CertStatus
	lastUpdate time.Time
	expire     time.Time
	doc        *codec.Node
}

// Ensure TermsAndConditions implements the entrystore.Distributable interface.
var _ entrystore.Distributable = (*TermsAndConditions)(nil)

func (t *TermsAndConditions) ID() string            { return t.operator + "_" + t.locale }
func (t *TermsAndConditions) Version() int64        { return toMillis(t.date) }
func (t *TermsAndConditions) LastUpdate() time.Time { return t.lastUpdate }
func (t *TermsAndConditions) ExpireTime() time.Time { return t.expire }
func (t *TermsAndConditions) Kind() entrystore.Kind { return KindTerms }
func (t *TermsAndConditions) PostPath() string      { return "/tc" }
func (t *TermsAndConditions) PostData() []byte      { return t.doc.Document() }
func (t *TermsAndConditions) Operator() string      { return t.operator }
func (t *TermsAndConditions) Locale() string        { return t.locale }
func (t *TermsAndConditions) Date() time.Time       { return t.date }
func (t *TermsAndConditions) Status() CertStatus    { return t.status }
func (t *TermsAndConditions) Node() *codec.Node     { return t.doc.Clone() }

// PostEncoding returns the encoding used when posting the terms.
func (t *TermsAndConditions) PostEncoding() codec.Encoding {
	return codec.EncodingZlib
}

// Body returns the text of the terms.
func (t *TermsAndConditions) Body() string {
	body, _ := t.doc.ChildText("Body")
	return body
}

// ParseTerms decodes a TermsAndConditions document.  The terms must be signed
// by the operator they belong to to count as verified.
func (p *Parser) ParseTerms(n *codec.Node) (*TermsAndConditions, error) {
	if err := expectRoot(n, "TermsAndConditions"); err != nil {
		return nil, err
	}
	now := p.cfg.Now()
	t := &TermsAndConditions{
		expire:     now.Add(p.cfg.TermsTTL),
		lastUpdate: now,
		doc:        n.Clone(),
	}
	t.operator, _ = n.Attr("id")
	t.locale, _ = n.Attr("locale")
	if t.operator == "" || t.locale == "" {
		return nil, ruleError(ErrMalformedDescriptor, "terms without "+
			"operator or locale")
	}
	dateText, _ := n.Attr("date")
	date, err := time.Parse(termsDateLayout, dateText)
	if err != nil {
		str := fmt.Sprintf("terms %s with malformed date %q", t.ID(), dateText)
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	t.date = date
	if _, ok := n.ChildText("Body"); !ok {
		str := fmt.Sprintf("terms %s without Body", t.ID())
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	t.status = statusOf(p.verify(n, now), t.operator, true)
	return t, nil
}

// TermsNode returns the unsigned terms document.
func TermsNode(operator, locale string, date time.Time, body string) *codec.Node {
	n := codec.NewNode("TermsAndConditions")
	n.SetAttr("id", operator)
	n.SetAttr("locale", locale)
	n.SetAttr("date", date.UTC().Format(termsDateLayout))
	n.AddText("Body", body)
	return n
}
