// Package snapshot defines the canonical, comparable serialization of a scene.
//
// A Snapshot is the JSON encoding of a normalized Document. Two snapshots are
// equal exactly when their canonical strings are equal, which is what the
// history stack, the echo guard and the reconciler compare.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	CurrentVersion    = 1
	DefaultBackground = "#fff"
)

// Snapshot is immutable once produced.
type Snapshot string

// Empty is the snapshot of a scene without objects.
func Empty() Snapshot {
	s, _ := Encode(Document{})
	return s
}

func Equal(a, b Snapshot) bool {
	return a == b
}

func (s Snapshot) IsZero() bool { return s == "" }

func (s Snapshot) Bytes() []byte { return []byte(s) }

func (s Snapshot) String() string { return string(s) }

// Digest is a short identity for logs and fast inequality checks.
func (s Snapshot) Digest() uint64 {
	return xxhash.Sum64String(string(s))
}

// MarshalJSON embeds the snapshot as a raw JSON object, not a string.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return []byte(s), nil
}

// Encode normalizes doc and returns its canonical form.
func Encode(doc Document) (Snapshot, error) {
	doc = normalize(doc)
	if err := validate(doc); err != nil {
		return "", err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return Snapshot(raw), nil
}

// Decode parses a snapshot back into a Document.
func Decode(s Snapshot) (Document, error) {
	return decode([]byte(s))
}

// Canonicalize turns an arbitrary stored payload into its canonical snapshot,
// so equivalent payloads with different key order or whitespace compare equal.
func Canonicalize(payload []byte) (Snapshot, error) {
	doc, err := decode(payload)
	if err != nil {
		return "", err
	}
	return Encode(doc)
}

func decode(payload []byte) (Document, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Document{}, ErrEmptyPayload
	}
	if trimmed[0] != '{' {
		return Document{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc = normalize(doc)
	if err := validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func normalize(doc Document) Document {
	doc = doc.Clone()
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Background == "" {
		doc.Background = DefaultBackground
	}
	if doc.Objects == nil {
		doc.Objects = []Object{}
	}
	for i := range doc.Objects {
		o := &doc.Objects[i]
		if o.ScaleX == 0 {
			o.ScaleX = 1
		}
		if o.ScaleY == 0 {
			o.ScaleY = 1
		}
	}
	return doc
}

func validate(doc Document) error {
	if doc.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	seen := make(map[string]struct{}, len(doc.Objects))
	for i, o := range doc.Objects {
		if o.ID == "" {
			return fmt.Errorf("%w: object %d has no id", ErrMalformed, i)
		}
		if !o.Type.Valid() {
			return fmt.Errorf("%w: object %s has unknown type %q", ErrMalformed, o.ID, o.Type)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate object id %s", ErrMalformed, o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}
