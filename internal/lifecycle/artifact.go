package lifecycle

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// ArtifactRef names an immutable image version: a repository plus a tag,
// a digest, or both. A bare repository is not a valid reference.
type ArtifactRef struct {
	Repository string
	Tag        string
	Digest     string
}

// ParseArtifactRef parses "repo/app:v2", "repo/app@sha256:..." or both forms combined.
func ParseArtifactRef(raw string) (ArtifactRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ArtifactRef{}, fmt.Errorf("%w: empty reference", ErrInvalidArtifact)
	}

	parsed, err := reference.Parse(raw)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidArtifact, raw, err)
	}
	named, ok := parsed.(reference.Named)
	if !ok {
		return ArtifactRef{}, fmt.Errorf("%w: %q has no repository", ErrInvalidArtifact, raw)
	}

	ref := ArtifactRef{Repository: named.Name()}
	if tagged, ok := parsed.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := parsed.(reference.Digested); ok {
		ref.Digest = digested.Digest().String()
	}
	if ref.Tag == "" && ref.Digest == "" {
		return ArtifactRef{}, fmt.Errorf("%w: %q needs a tag or digest", ErrInvalidArtifact, raw)
	}
	return ref, nil
}

// MustParseArtifactRef is ParseArtifactRef for literals known to be valid.
func MustParseArtifactRef(raw string) ArtifactRef {
	ref, err := ParseArtifactRef(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

func (r ArtifactRef) String() string {
	if r.IsZero() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(r.Repository)
	if r.Tag != "" {
		sb.WriteString(":")
		sb.WriteString(r.Tag)
	}
	if r.Digest != "" {
		sb.WriteString("@")
		sb.WriteString(r.Digest)
	}
	return sb.String()
}

func (r ArtifactRef) IsZero() bool {
	return r.Repository == "" && r.Tag == "" && r.Digest == ""
}

func (r ArtifactRef) Equal(other ArtifactRef) bool {
	return r.String() == other.String()
}

func (r ArtifactRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ArtifactRef) UnmarshalText(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		*r = ArtifactRef{}
		return nil
	}
	ref, err := ParseArtifactRef(string(data))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}
