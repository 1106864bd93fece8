package search

import "testing"

func TestParseQdrantURL(t *testing.T) {
	cases := []struct {
		in         string
		wantHost   string
		wantScheme string
		wantColl   string
		wantErr    bool
	}{
		{"qdrant://localhost:6334/corpus", "localhost:6334", "http", "corpus", false},
		{"qdrants://secure.example:6334/corpus", "secure.example:6334", "https", "corpus", false},
		{"qdrant://localhost:6334/", "", "", "", true},
		{"qdrant://localhost:6334", "", "", "", true},
	}

	for _, tc := range cases {
		u, coll, err := parseQdrantURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseQdrantURL(%q): expected error, got none", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseQdrantURL(%q): unexpected error: %v", tc.in, err)
		}
		if u.Host != tc.wantHost || u.Scheme != tc.wantScheme {
			t.Errorf("parseQdrantURL(%q) = %s://%s, want %s://%s", tc.in, u.Scheme, u.Host, tc.wantScheme, tc.wantHost)
		}
		if coll != tc.wantColl {
			t.Errorf("parseQdrantURL(%q) collection = %q, want %q", tc.in, coll, tc.wantColl)
		}
	}
}
