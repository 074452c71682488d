// Package ocicache adapts this project's OCI-registry tooling into a
// side-cache lister: given an OCI reference (e.g. an image carrying a
// disk image as an artifact layer), it resolves the reference's manifest
// descriptor without pulling the full content, so "rawimport cache ls"
// can show registry-origin entries next to locally-cached raw images.
//
// It is intentionally read-only and out of the importer's core state
// machine: nothing here participates in a Pull. Downloading and
// converting disk images is left to the raw-image pipeline in
// pkg/rawimport.
package ocicache

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Entry describes one OCI reference resolved against its registry.
type Entry struct {
	Ref       string
	Digest    string
	MediaType string
	Size      int64
}

// Inspect resolves ref against its registry and returns its manifest
// descriptor, without pulling layer content.
func Inspect(ref string) (*Entry, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref, err)
	}

	desc, err := remote.Head(r)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}

	return entryFromDescriptor(ref, desc), nil
}

func entryFromDescriptor(ref string, desc *v1.Descriptor) *Entry {
	return &Entry{
		Ref:       ref,
		Digest:    desc.Digest.String(),
		MediaType: string(desc.MediaType),
		Size:      desc.Size,
	}
}

// List resolves every ref, skipping (and reporting via onError) any that
// fail to resolve rather than aborting the whole listing.
func List(refs []string, onError func(ref string, err error)) []Entry {
	var entries []Entry
	for _, ref := range refs {
		e, err := Inspect(ref)
		if err != nil {
			if onError != nil {
				onError(ref, err)
			}
			continue
		}
		entries = append(entries, *e)
	}
	return entries
}
