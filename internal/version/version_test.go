// Copyright (c) 2021 The Decred developers
// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import "testing"

// TestParse ensures parsing a semantic version string works as expected.
func TestParse(t *testing.T) {
	tests := []struct {
		ver     string
		want    Semver
		invalid bool
	}{{
		ver:  "0.0.4",
		want: Semver{Patch: 4},
	}, {
		ver:  "10.20.30",
		want: Semver{Major: 10, Minor: 20, Patch: 30},
	}, {
		ver:  "1.1.2-prerelease+meta",
		want: Semver{1, 1, 2, "prerelease", "meta"},
	}, {
		ver:  "1.0.0-alpha.beta.1",
		want: Semver{1, 0, 0, "alpha.beta.1", ""},
	}, {
		ver:  " 2.0.0+build.1848 ",
		want: Semver{2, 0, 0, "", "build.1848"},
	}, {
		ver:  "1.0.0-0A.is.legal",
		want: Semver{1, 0, 0, "0A.is.legal", ""},
	}, {
		ver:     "1.2",
		invalid: true,
	}, {
		ver:     "01.1.1",
		invalid: true,
	}, {
		ver:     "1.2.3-0123",
		invalid: true,
	}, {
		ver:     "1.2.3.DEV",
		invalid: true,
	}, {
		ver:     "9.8.7+meta+meta",
		invalid: true,
	}, {
		ver:     "99999999999999999999999.999999999999999999.99999999999999999",
		invalid: true,
	}}

	t.Logf("Running %d tests", len(tests))
	for _, test := range tests {
		got, err := Parse(test.ver)
		if test.invalid {
			if err == nil {
				t.Errorf("%q: did not receive expected error", test.ver)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected err: %v", test.ver, err)
			continue
		}
		if got != test.want {
			t.Errorf("%q: mismatched version -- got %+v, want %+v", test.ver,
				got, test.want)
		}
	}
}

// TestCompare ensures semantic version precedence follows the ordering rules
// of the semantic versioning spec.
func TestCompare(t *testing.T) {
	// Each version has lower precedence than the one that follows it.
	ordered := []string{
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}

	t.Logf("Running %d tests", len(ordered)-1)
	for i := 0; i+1 < len(ordered); i++ {
		a, err := Parse(ordered[i])
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", ordered[i], err)
		}
		b, err := Parse(ordered[i+1])
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", ordered[i+1], err)
		}
		if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
			t.Errorf("%q vs %q: unexpected precedence", ordered[i],
				ordered[i+1])
		}
	}

	// Build metadata is ignored.
	a, _ := Parse("1.0.0+a")
	b, _ := Parse("1.0.0+b")
	if a.Compare(b) != 0 {
		t.Error("build metadata affected precedence")
	}
}

// TestAppVersion ensures the application version is well formed.
func TestAppVersion(t *testing.T) {
	v, err := Parse(String())
	if err != nil {
		t.Fatalf("application version %q does not parse: %v", String(), err)
	}
	if v.Compare(App()) != 0 {
		t.Fatalf("mismatched application version %v vs %v", v, App())
	}
}
