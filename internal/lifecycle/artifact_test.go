package lifecycle

import (
	"errors"
	"testing"
)

func TestParseArtifactRef(t *testing.T) {
	const digest = "sha256:4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945"
	tests := []struct {
		raw  string
		want ArtifactRef
	}{
		{"repo/app:v2", ArtifactRef{Repository: "repo/app", Tag: "v2"}},
		{"registry.example.com:5000/shop/catalog:1.4.0", ArtifactRef{Repository: "registry.example.com:5000/shop/catalog", Tag: "1.4.0"}},
		{"repo/app@" + digest, ArtifactRef{Repository: "repo/app", Digest: digest}},
		{"repo/app:v2@" + digest, ArtifactRef{Repository: "repo/app", Tag: "v2", Digest: digest}},
	}
	for _, tt := range tests {
		got, err := ParseArtifactRef(tt.raw)
		if err != nil {
			t.Fatalf("ParseArtifactRef(%q) error = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseArtifactRef(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
		if got.String() != tt.raw {
			t.Fatalf("String() = %q, want %q", got.String(), tt.raw)
		}
	}
}

func TestParseArtifactRefRejects(t *testing.T) {
	for _, raw := range []string{"", "  ", "repo/app", "Repo/App:v1", "repo/app:"} {
		if _, err := ParseArtifactRef(raw); !errors.Is(err, ErrInvalidArtifact) {
			t.Fatalf("ParseArtifactRef(%q) error = %v, want ErrInvalidArtifact", raw, err)
		}
	}
}

func TestArtifactRefText(t *testing.T) {
	var ref ArtifactRef
	if err := ref.UnmarshalText([]byte("repo/app:v1")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if !ref.Equal(ArtifactRef{Repository: "repo/app", Tag: "v1"}) {
		t.Fatalf("UnmarshalText() = %+v", ref)
	}
	if err := ref.UnmarshalText(nil); err != nil || !ref.IsZero() {
		t.Fatalf("UnmarshalText(empty) = (%+v, %v), want zero", ref, err)
	}
	if err := ref.UnmarshalText([]byte("repo/app")); err == nil {
		t.Fatal("UnmarshalText(untagged) error = nil")
	}
}
