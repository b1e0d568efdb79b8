// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		text    string
		want    Semantic
		wantErr bool
	}{
		{text: "1.2.3", want: Semantic{1, 2, 3}},
		{text: "v0.0.0", want: Semantic{}},
		{text: "10.20.30", want: Semantic{10, 20, 30}},
		{text: "0.1.0-dev", wantErr: true},
		{text: "1.2", wantErr: true},
		{text: "1.2.3.4", wantErr: true},
		{text: "a.b.c", wantErr: true},
		{text: "-1.0.0", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.text, func(t *testing.T) {
			got, err := Parse(test.text)
			if test.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", test.text, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", test.text, err)
			}
			if got != test.want {
				t.Errorf("Parse(%q) = %v, want %v", test.text, got, test.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	ordered := []Semantic{{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 9}, {1, 0, 0}, {1, 0, 1}, {2, 0, 0}}
	for i := range ordered {
		for j := range ordered {
			got := ordered[i].Compare(ordered[j])
			want := compareUint(uint32(i), uint32(j))
			if got != want {
				t.Errorf("%v.Compare(%v) = %d, want %d", ordered[i], ordered[j], got, want)
			}
		}
	}
}

func TestCompiled(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })

	Version = "0.1.0-dev"
	if _, ok := Compiled(); ok {
		t.Error("development build reported as comparable")
	}

	Version = "3.1.4"
	got, ok := Compiled()
	if !ok || got != (Semantic{3, 1, 4}) {
		t.Errorf("Compiled() = %v, %v", got, ok)
	}
}

func TestString(t *testing.T) {
	if got := (Semantic{1, 22, 333}).String(); got != "1.22.333" {
		t.Errorf("String() = %q", got)
	}
}
