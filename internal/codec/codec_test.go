// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"errors"
	"testing"
)

// TestNodeCanonical ensures parsing ignores insignificant whitespace and the
// canonical form round trips.
func TestNodeCanonical(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{{
		name: "empty element",
		doc:  `<Mix id="a"/>`,
		want: `<Mix id="a"/>`,
	}, {
		name: "nested with whitespace",
		doc: `<?xml version="1.0"?>
<MixCascade id="x">
  <Name> cascade </Name>
  <Mixes count="1">
    <Mix id="x"/>
  </Mixes>
</MixCascade>`,
		want: `<MixCascade id="x"><Name>cascade</Name><Mixes count="1"><Mix id="x"/></Mixes></MixCascade>`,
	}, {
		name: "escaped text",
		doc:  `<Name a="&lt;b&gt;">x &amp; y</Name>`,
		want: `<Name a="&lt;b&gt;">x &amp; y</Name>`,
	}}

	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		n, err := Parse([]byte(test.doc))
		if err != nil {
			t.Errorf("%q: unexpected parse error: %v", test.name, err)
			continue
		}
		got := string(n.Bytes())
		if got != test.want {
			t.Errorf("%q: mismatched canonical form\n got: %s\nwant: %s",
				test.name, got, test.want)
			continue
		}

		// Canonical bytes must parse back into the same canonical bytes.
		n2, err := Parse(n.Bytes())
		if err != nil {
			t.Errorf("%q: unexpected reparse error: %v", test.name, err)
			continue
		}
		if !bytes.Equal(n2.Bytes(), n.Bytes()) {
			t.Errorf("%q: canonical form is not stable", test.name)
		}
	}
}

// TestNodeLookups exercises the attribute and child helpers.
func TestNodeLookups(t *testing.T) {
	doc := `<Serials><Mix id="a" serial="12" verified="true"/>` +
		`<Mix id="b" serial="bogus"/><Other/></Serials>`
	n, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	mixes := n.ChildrenNamed("Mix")
	if len(mixes) != 2 {
		t.Fatalf("unexpected number of Mix children: got %d, want 2",
			len(mixes))
	}
	if got := mixes[0].AttrInt64("serial", 0); got != 12 {
		t.Errorf("serial: got %d, want 12", got)
	}
	if got := mixes[1].AttrInt64("serial", -1); got != -1 {
		t.Errorf("malformed serial default: got %d, want -1", got)
	}
	if !mixes[0].AttrBool("verified", false) {
		t.Error("verified attribute not parsed")
	}
	if mixes[1].AttrBool("verified", false) {
		t.Error("missing verified attribute did not default to false")
	}
	if n.Path("Other") == nil || n.Path("Other", "Missing") != nil {
		t.Error("unexpected path lookup result")
	}

	n.RemoveChildren("Mix")
	if len(n.Children) != 1 {
		t.Errorf("unexpected children after removal: %d", len(n.Children))
	}
}

// TestParseMalformed ensures malformed documents are reported with the
// correct error kind.
func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("<MixCascade><Mixes></MixCascade>"))
	if !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("unexpected error: got %v, want %v", err,
			ErrMalformedDocument)
	}
}

// TestEncodings ensures each encoding round trips and limits are enforced.
func TestEncodings(t *testing.T) {
	doc := bytes.Repeat([]byte("<Mix id=\"abc\"/>"), 64)
	for _, enc := range []Encoding{EncodingPlain, EncodingZlib, EncodingGzip} {
		encoded, err := Encode(enc, doc)
		if err != nil {
			t.Errorf("%v: unexpected encode error: %v", enc, err)
			continue
		}
		decoded, err := Decode(enc, bytes.NewReader(encoded), int64(len(doc)))
		if err != nil {
			t.Errorf("%v: unexpected decode error: %v", enc, err)
			continue
		}
		if !bytes.Equal(decoded, doc) {
			t.Errorf("%v: round trip mismatch", enc)
		}

		_, err = Decode(enc, bytes.NewReader(encoded), int64(len(doc)-1))
		if !errors.Is(err, ErrDocumentTooLarge) {
			t.Errorf("%v: unexpected limit error: got %v, want %v", enc,
				err, ErrDocumentTooLarge)
		}

		parsed, err := ParseContentEncoding(enc.ContentEncoding())
		if err != nil || parsed != enc {
			t.Errorf("%v: header round trip got %v (err %v)", enc, parsed,
				err)
		}
	}

	if _, err := ParseContentEncoding("br"); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("unexpected error for unsupported encoding: %v", err)
	}
}
