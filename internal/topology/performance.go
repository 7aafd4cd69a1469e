// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/anonnet/infoserviced/internal/entrystore"
)

// PerformanceWindow is the number of measurements a performance sample keeps.
const PerformanceWindow = 3

// DocumentSigner signs documents produced by this node.
type DocumentSigner interface {
	Sign(doc *codec.Node) error
}

// Measurement is a single performance measurement of a cascade.
type Measurement struct {
	// Delay is the round trip time through the cascade.
	Delay time.Duration

	// Speed is the throughput in kbit/s.
	Speed int64
}

// PerformanceSample is the rolling window of measurements an infoservice took
// of a cascade.
type PerformanceSample struct {
	cascadeID  string
	sourceID   string
	window     []Measurement
	status     CertStatus
	version    int64
	lastUpdate time.Time
	expire     time.Time
	doc        *codec.Node
}

// Ensure PerformanceSample implements the entrystore.Distributable interface.
var _ entrystore.Distributable = (*PerformanceSample)(nil)

// PerformanceID returns the id of the sample taken of the cascade by the
// infoservice.
func PerformanceID(cascadeID, sourceID string) string {
	return cascadeID + "." + sourceID
}

func (s *PerformanceSample) ID() string            { return PerformanceID(s.cascadeID, s.sourceID) }
func (s *PerformanceSample) Version() int64        { return s.version }
func (s *PerformanceSample) LastUpdate() time.Time { return s.lastUpdate }
func (s *PerformanceSample) ExpireTime() time.Time { return s.expire }
func (s *PerformanceSample) Kind() entrystore.Kind { return KindPerformance }
func (s *PerformanceSample) PostPath() string      { return "/performance" }
func (s *PerformanceSample) PostData() []byte      { return s.doc.Document() }
func (s *PerformanceSample) CascadeID() string     { return s.cascadeID }
func (s *PerformanceSample) SourceID() string      { return s.sourceID }
func (s *PerformanceSample) Status() CertStatus    { return s.status }
func (s *PerformanceSample) Node() *codec.Node     { return s.doc.Clone() }

// PostEncoding returns the encoding used when posting the sample.
func (s *PerformanceSample) PostEncoding() codec.Encoding {
	return codec.EncodingPlain
}

// Measurements returns the window, oldest first.
func (s *PerformanceSample) Measurements() []Measurement {
	return append([]Measurement(nil), s.window...)
}

// AverageDelay returns the mean delay over the window.
func (s *PerformanceSample) AverageDelay() time.Duration {
	if len(s.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, m := range s.window {
		sum += m.Delay
	}
	return sum / time.Duration(len(s.window))
}

// AverageSpeed returns the mean throughput over the window in kbit/s.
func (s *PerformanceSample) AverageSpeed() int64 {
	if len(s.window) == 0 {
		return 0
	}
	var sum int64
	for _, m := range s.window {
		sum += m.Speed
	}
	return sum / int64(len(s.window))
}

// NewPerformanceSample returns a sample of the cascade holding a single
// measurement.  The document is signed when a signer is given.
func (p *Parser) NewPerformanceSample(cascadeID, sourceID string, m Measurement,
	signer DocumentSigner) (*PerformanceSample, error) {

	empty := &PerformanceSample{cascadeID: cascadeID, sourceID: sourceID}
	return p.AddMeasurement(empty, m, signer)
}

// AddMeasurement returns a new sample with the measurement appended to the
// window of prev.  The oldest measurement is dropped once the window is full.
// The new sample always has a higher version than prev so it replaces prev in
// a store.
func (p *Parser) AddMeasurement(prev *PerformanceSample, m Measurement,
	signer DocumentSigner) (*PerformanceSample, error) {

	if prev.cascadeID == "" || prev.sourceID == "" {
		return nil, ruleError(ErrMalformedDescriptor, "performance sample "+
			"without cascade or source id")
	}
	now := p.cfg.Now()
	window := append(prev.Measurements(), m)
	if len(window) > PerformanceWindow {
		window = window[len(window)-PerformanceWindow:]
	}
	version := toMillis(now)
	if version <= prev.version {
		version = prev.version + 1
	}
	s := &PerformanceSample{
		cascadeID:  prev.cascadeID,
		sourceID:   prev.sourceID,
		window:     window,
		version:    version,
		lastUpdate: now,
		expire:     now.Add(p.cfg.PerformanceTTL),
	}
	s.doc = s.node()
	if signer != nil {
		if err := signer.Sign(s.doc); err != nil {
			return nil, fmt.Errorf("unable to sign performance sample: %w", err)
		}
		s.status = CertStatus{Verified: true}
	}
	return s, nil
}

// node builds the document of the sample.
func (s *PerformanceSample) node() *codec.Node {
	n := codec.NewNode("PerformanceInfo")
	n.SetAttr("id", s.ID())
	n.SetAttr("serial", strconv.FormatInt(s.version, 10))
	n.AddText("CascadeId", s.cascadeID)
	n.AddText("InfoServiceId", s.sourceID)
	samples := n.AddChild(codec.NewNode("Samples"))
	for _, m := range s.window {
		sample := samples.AddChild(codec.NewNode("Sample"))
		sample.AddText("Delay", strconv.FormatInt(int64(m.Delay/time.Millisecond), 10))
		sample.AddText("Speed", strconv.FormatInt(m.Speed, 10))
	}
	n.AddText("LastUpdate", strconv.FormatInt(toMillis(s.lastUpdate), 10))
	return n
}

// ParsePerformance decodes a PerformanceInfo document.
func (p *Parser) ParsePerformance(n *codec.Node) (*PerformanceSample, error) {
	if err := expectRoot(n, "PerformanceInfo"); err != nil {
		return nil, err
	}
	now := p.cfg.Now()
	s := &PerformanceSample{
		expire: now.Add(p.cfg.PerformanceTTL),
		doc:    n.Clone(),
	}
	s.cascadeID, _ = n.ChildText("CascadeId")
	s.sourceID, _ = n.ChildText("InfoServiceId")
	id, _ := n.Attr("id")
	if s.cascadeID == "" || s.sourceID == "" {
		// Older documents only carry the combined id.
		if i := strings.LastIndexByte(id, '.'); i > 0 && i < len(id)-1 {
			s.cascadeID, s.sourceID = id[:i], id[i+1:]
		}
	}
	if s.cascadeID == "" || s.sourceID == "" {
		return nil, ruleError(ErrMalformedDescriptor, "performance info "+
			"without cascade or source id")
	}
	if id != "" && id != s.ID() {
		str := fmt.Sprintf("performance info id %q does not match %q", id,
			s.ID())
		return nil, ruleError(ErrMalformedDescriptor, str)
	}

	lastUpdate, ok, err := parseMillisText(n, "LastUpdate")
	if err != nil {
		return nil, err
	}
	if !ok {
		str := fmt.Sprintf("performance info %s without LastUpdate", s.ID())
		return nil, ruleError(ErrMalformedDescriptor, str)
	}
	s.lastUpdate = lastUpdate
	s.version = n.AttrInt64("serial", toMillis(lastUpdate))

	if samples := n.Child("Samples"); samples != nil {
		for _, sn := range samples.ChildrenNamed("Sample") {
			m, ok := parseMeasurement(sn)
			if !ok {
				log.Debugf("Skipping malformed sample in performance info %s",
					s.ID())
				continue
			}
			s.window = append(s.window, m)
		}
	}
	if len(s.window) > PerformanceWindow {
		s.window = s.window[len(s.window)-PerformanceWindow:]
	}

	s.status = statusOf(p.verify(n, now), s.sourceID, false)
	return s, nil
}

// parseMeasurement decodes the Delay and Speed children of the node.
func parseMeasurement(n *codec.Node) (Measurement, bool) {
	delayText, _ := n.ChildText("Delay")
	speedText, _ := n.ChildText("Speed")
	delay, err1 := strconv.ParseInt(delayText, 10, 64)
	speed, err2 := strconv.ParseInt(speedText, 10, 64)
	if err1 != nil || err2 != nil || delay < 0 || speed < 0 {
		return Measurement{}, false
	}
	return Measurement{Delay: time.Duration(delay) * time.Millisecond,
		Speed: speed}, true
}

// ParseMeasurement decodes a Measurement document reporting a single
// measurement of a cascade.  It returns the id of the measured cascade.
func ParseMeasurement(n *codec.Node) (string, Measurement, error) {
	if err := expectRoot(n, "Measurement"); err != nil {
		return "", Measurement{}, err
	}
	cascadeID, _ := n.ChildText("CascadeId")
	if cascadeID == "" {
		return "", Measurement{}, ruleError(ErrMalformedDescriptor,
			"measurement without cascade id")
	}
	m, ok := parseMeasurement(n)
	if !ok {
		str := fmt.Sprintf("malformed measurement of cascade %s", cascadeID)
		return "", Measurement{}, ruleError(ErrMalformedDescriptor, str)
	}
	return cascadeID, m, nil
}
