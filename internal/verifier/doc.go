// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package verifier checks the signatures and certificate paths embedded in
infoservice documents.

A signed document carries a Signature element holding the signer's compressed
secp256k1 public key, a schnorr signature over the blake256 hash of the
canonical document without its Signature element, and optionally a CertPath.
The path starts with the certificate of the signing key and ends with a
self-signed root, which for relays is the operator certificate.

Verification never fails.  The returned [Result] reports whether the signature
matched (Verified) and whether the certificate path was intact, trusted and
within its validity window (Valid), together with the key-derived identity and
the certificate subjects used for operator and country diversity.
*/
package verifier
