// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verifier

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Element names of certificates.
const (
	certElement       = "Certificate"
	certSigElement    = "CertSignature"
	subjectElement    = "Subject"
	publicKeyElement  = "PublicKey"
	notBeforeElement  = "NotBefore"
	notAfterElement   = "NotAfter"
	commonNameElement = "CN"
	orgElement        = "O"
	countryElement    = "C"
)

// Name is the distinguished name of a certificate subject.  Empty fields are
// unknown.
type Name struct {
	CommonName   string
	Organization string
	Country      string
}

// Certificate binds a public key to a subject for a validity window.  It is
// signed by the key of the next certificate in its path, or by its own key
// when it is the root.
type Certificate struct {
	Subject   Name
	PublicKey *secp256k1.PublicKey
	NotBefore time.Time
	NotAfter  time.Time
	Signature []byte
}

// ValidAt returns whether the time is within the validity window.
func (c *Certificate) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// toNode returns the certificate as an element.  The signature is omitted when
// withSig is false, which yields the signed portion.
func (c *Certificate) toNode(withSig bool) *codec.Node {
	n := codec.NewNode(certElement)
	subj := n.AddChild(codec.NewNode(subjectElement))
	if c.Subject.CommonName != "" {
		subj.AddText(commonNameElement, c.Subject.CommonName)
	}
	if c.Subject.Organization != "" {
		subj.AddText(orgElement, c.Subject.Organization)
	}
	if c.Subject.Country != "" {
		subj.AddText(countryElement, c.Subject.Country)
	}
	n.AddText(publicKeyElement, hex.EncodeToString(c.PublicKey.SerializeCompressed()))
	n.AddText(notBeforeElement, strconv.FormatInt(c.NotBefore.Unix(), 10))
	n.AddText(notAfterElement, strconv.FormatInt(c.NotAfter.Unix(), 10))
	if withSig {
		n.AddText(certSigElement, hex.EncodeToString(c.Signature))
	}
	return n
}

// Node returns the certificate as an element.
func (c *Certificate) Node() *codec.Node {
	return c.toNode(true)
}

// parseUnix parses a base 10 unix timestamp.
func parseUnix(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}

// parsePublicKey parses a hex encoded serialized public key.
func parsePublicKey(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return secp256k1.ParsePubKey(b)
}

// ParseCertificate decodes a Certificate element.
func ParseCertificate(n *codec.Node) (*Certificate, error) {
	if n.Name() != certElement {
		str := fmt.Sprintf("unexpected element %q", n.Name())
		return nil, makeError(ErrMalformedCertificate, str)
	}

	var c Certificate
	if subj := n.Child(subjectElement); subj != nil {
		c.Subject.CommonName, _ = subj.ChildText(commonNameElement)
		c.Subject.Organization, _ = subj.ChildText(orgElement)
		c.Subject.Country, _ = subj.ChildText(countryElement)
	}

	keyText, _ := n.ChildText(publicKeyElement)
	pub, err := parsePublicKey(keyText)
	if err != nil {
		str := fmt.Sprintf("malformed certificate key: %v", err)
		return nil, makeError(ErrMalformedCertificate, str)
	}
	c.PublicKey = pub

	nb, _ := n.ChildText(notBeforeElement)
	if c.NotBefore, err = parseUnix(nb); err != nil {
		str := fmt.Sprintf("malformed certificate start: %v", err)
		return nil, makeError(ErrMalformedCertificate, str)
	}
	na, _ := n.ChildText(notAfterElement)
	if c.NotAfter, err = parseUnix(na); err != nil {
		str := fmt.Sprintf("malformed certificate end: %v", err)
		return nil, makeError(ErrMalformedCertificate, str)
	}

	sigText, _ := n.ChildText(certSigElement)
	if c.Signature, err = hex.DecodeString(sigText); err != nil {
		str := fmt.Sprintf("malformed certificate signature: %v", err)
		return nil, makeError(ErrMalformedCertificate, str)
	}
	return &c, nil
}

// IssueCertificate creates a certificate for the subject key signed by the
// issuer key.  Passing the private key of the subject key as issuer yields a
// self-signed root.
func IssueCertificate(issuer *secp256k1.PrivateKey, subjectKey *secp256k1.PublicKey,
	subject Name, notBefore, notAfter time.Time) (*Certificate, error) {

	c := &Certificate{
		Subject:   subject,
		PublicKey: subjectKey,
		NotBefore: time.Unix(notBefore.Unix(), 0),
		NotAfter:  time.Unix(notAfter.Unix(), 0),
	}
	sig, err := schnorr.Sign(issuer, sigHash(certTag, c.toNode(false)))
	if err != nil {
		return nil, err
	}
	c.Signature = sig.Serialize()
	return c, nil
}

// checkSignature returns whether the certificate is signed by the key.
func (c *Certificate) checkSignature(issuer *secp256k1.PublicKey) bool {
	sig, err := schnorr.ParseSignature(c.Signature)
	if err != nil {
		return false
	}
	return sig.Verify(sigHash(certTag, c.toNode(false)), issuer)
}
