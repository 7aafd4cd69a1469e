// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verifier

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/anonnet/infoserviced/internal/codec"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Signature tags are mixed into every signature hash so signatures of one
// object type can never be replayed as another.
const (
	documentTag = "infoservice-document-signature"
	certTag     = "infoservice-certificate-signature"
)

// Element names of document signatures.
const (
	signatureElement = "Signature"
	sigValueElement  = "SignatureValue"
	certPathElement  = "CertPath"
)

// sigHash returns the signature hash of the element.
func sigHash(tag string, n *codec.Node) []byte {
	h := blake256.New()
	fmt.Fprintf(h, "%s,%s,", tag, n.Name())
	h.Write(n.Bytes())
	return h.Sum(nil)
}

// Identity returns the identity derived from a public key.  Relays and
// infoservices are identified by the hex encoded blake256 hash of their
// compressed signing key.
func Identity(pub *secp256k1.PublicKey) string {
	h := blake256.New()
	h.Write(pub.SerializeCompressed())
	return hex.EncodeToString(h.Sum(nil))
}

// Result is the outcome of verifying a signed document.  The zero value
// describes an unsigned document.
type Result struct {
	// Verified is set when the document signature matches the embedded
	// signing key.
	Verified bool

	// Valid is set when a certificate path for the signing key was present,
	// chained correctly, ended in a trusted root, and every certificate was
	// within its validity window at verification time.
	Valid bool

	// HasPath is set when a well-formed certificate path was present.
	HasPath bool

	// Identity is the identity of the signing key.  It is empty when no key
	// could be parsed.
	Identity string

	// Subject is the subject of the signing key's certificate.
	Subject Name

	// Issuer is the subject of the certificate that issued the signing key's
	// certificate.  It is the operator of a relay.
	Issuer Name

	// NotBefore and NotAfter are the validity window of the signing key's
	// certificate.
	NotBefore time.Time
	NotAfter  time.Time
}

// Verifier checks signed documents.
type Verifier interface {
	Verify(doc *codec.Node, now time.Time) Result
}

// KeyVerifier verifies documents signed with secp256k1 schnorr signatures
// over blake256 hashes, optionally restricting certificate paths to roots
// issued by a set of trusted operator keys.
type KeyVerifier struct {
	trusted map[string]struct{}
}

// New returns a verifier that accepts certificate paths rooted at any of the
// passed operator identities.  When no identities are passed any
// self-consistent path is accepted.
func New(trustedOperators ...string) *KeyVerifier {
	v := &KeyVerifier{trusted: make(map[string]struct{})}
	for _, id := range trustedOperators {
		v.trusted[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return v
}

// unsigned returns a copy of the document without its signature element.
func unsigned(doc *codec.Node) *codec.Node {
	c := doc.Clone()
	c.RemoveChildren(signatureElement)
	return c
}

// Verify checks the signature and certificate path embedded in the document.
// It never fails; problems are reflected by the returned status.
func (v *KeyVerifier) Verify(doc *codec.Node, now time.Time) Result {
	var res Result
	sigNode := doc.Child(signatureElement)
	if sigNode == nil {
		return res
	}

	keyText, _ := sigNode.ChildText(publicKeyElement)
	pub, err := parsePublicKey(keyText)
	if err != nil {
		log.Debugf("Unparsable signing key in %s: %v", doc.Name(), err)
		return res
	}
	res.Identity = Identity(pub)

	sigText, _ := sigNode.ChildText(sigValueElement)
	sigBytes, err := hex.DecodeString(sigText)
	if err != nil {
		log.Debugf("Unparsable signature in %s: %v", doc.Name(), err)
		return res
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		log.Debugf("Unparsable signature in %s: %v", doc.Name(), err)
		return res
	}
	res.Verified = sig.Verify(sigHash(documentTag, unsigned(doc)), pub)

	path, err := v.parsePath(sigNode, pub)
	if err != nil {
		log.Debugf("Rejected certificate path of %s %s: %v", doc.Name(),
			res.Identity, err)
		return res
	}
	if path == nil {
		return res
	}
	leaf := path[0]
	res.HasPath = true
	res.Subject = leaf.Subject
	res.Issuer = leaf.Subject
	if len(path) > 1 {
		res.Issuer = path[1].Subject
	}
	res.NotBefore = leaf.NotBefore
	res.NotAfter = leaf.NotAfter
	res.Valid = true
	for _, c := range path {
		if !c.ValidAt(now) {
			res.Valid = false
			break
		}
	}
	return res
}

// parsePath decodes and checks the certificate path of a signature element.
// A nil path without error is returned when no path is present.
func (v *KeyVerifier) parsePath(sigNode *codec.Node, signer *secp256k1.PublicKey) ([]*Certificate, error) {
	pathNode := sigNode.Child(certPathElement)
	if pathNode == nil {
		return nil, nil
	}
	certNodes := pathNode.ChildrenNamed(certElement)
	if len(certNodes) == 0 {
		return nil, nil
	}
	path := make([]*Certificate, 0, len(certNodes))
	for _, n := range certNodes {
		c, err := ParseCertificate(n)
		if err != nil {
			return nil, err
		}
		path = append(path, c)
	}

	if !path[0].PublicKey.IsEqual(signer) {
		return nil, makeError(ErrBrokenPath, "certificate does not match "+
			"the signing key")
	}
	for i, c := range path {
		issuer := c.PublicKey
		if i+1 < len(path) {
			issuer = path[i+1].PublicKey
		}
		if !c.checkSignature(issuer) {
			str := fmt.Sprintf("certificate %d has an invalid signature", i)
			return nil, makeError(ErrBrokenPath, str)
		}
	}

	if len(v.trusted) > 0 {
		root := Identity(path[len(path)-1].PublicKey)
		if _, ok := v.trusted[root]; !ok {
			str := fmt.Sprintf("root %s is not trusted", root)
			return nil, makeError(ErrUntrustedRoot, str)
		}
	}
	return path, nil
}

// Signer signs documents with a private key, embedding the key and an
// optional certificate path.
type Signer struct {
	priv *secp256k1.PrivateKey
	path []*Certificate
}

// NewSigner returns a signer for the key.  The path, when given, starts with
// the certificate of the key itself.
func NewSigner(priv *secp256k1.PrivateKey, path ...*Certificate) *Signer {
	return &Signer{priv: priv, path: path}
}

// ParsePrivateKey decodes a hex encoded 32-byte private key.
func ParsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != secp256k1.PrivKeyBytesLen {
		return nil, makeError(ErrMalformedKey, "private key must be 32 hex "+
			"encoded bytes")
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// Identity returns the identity of the signing key.
func (s *Signer) Identity() string {
	return Identity(s.priv.PubKey())
}

// Sign replaces any signature of the document with a new one.
func (s *Signer) Sign(doc *codec.Node) error {
	doc.RemoveChildren(signatureElement)
	sig, err := schnorr.Sign(s.priv, sigHash(documentTag, doc))
	if err != nil {
		return err
	}

	sigNode := codec.NewNode(signatureElement)
	sigNode.AddText(publicKeyElement,
		hex.EncodeToString(s.priv.PubKey().SerializeCompressed()))
	sigNode.AddText(sigValueElement, hex.EncodeToString(sig.Serialize()))
	if len(s.path) > 0 {
		pathNode := sigNode.AddChild(codec.NewNode(certPathElement))
		for _, c := range s.path {
			pathNode.AddChild(c.Node())
		}
	}
	doc.AddChild(sigNode)
	return nil
}
