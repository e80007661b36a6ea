package model

import (
	"fmt"
	"strings"
)

// ArtifactRef is an opaque reference to an artifact: "<namespace>/<id>".
// Modules pass refs downstream instead of artifact payloads; the namespace
// half names the owning module and is enforced by the persistence gateway,
// never by a database constraint.
type ArtifactRef string

// NewArtifactRef builds a ref from a namespace and an artifact ID.
func NewArtifactRef(namespace, id string) ArtifactRef {
	return ArtifactRef(namespace + "/" + id)
}

// ParseArtifactRef validates and splits a ref into namespace and ID.
func ParseArtifactRef(ref ArtifactRef) (namespace, id string, err error) {
	ns, rest, ok := strings.Cut(string(ref), "/")
	if !ok || ns == "" || rest == "" {
		return "", "", NewNotFoundError(fmt.Sprintf("malformed artifact ref %q", ref))
	}
	return ns, rest, nil
}

// Namespace returns the owning module's namespace, or "" if malformed.
func (r ArtifactRef) Namespace() string {
	ns, _, err := ParseArtifactRef(r)
	if err != nil {
		return ""
	}
	return ns
}

// ID returns the artifact identifier, or "" if malformed.
func (r ArtifactRef) ID() string {
	_, id, err := ParseArtifactRef(r)
	if err != nil {
		return ""
	}
	return id
}

// IsZero reports whether the ref is empty.
func (r ArtifactRef) IsZero() bool {
	return r == ""
}

func (r ArtifactRef) String() string {
	return string(r)
}
