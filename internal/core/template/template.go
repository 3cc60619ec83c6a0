// Package template loads named starter documents used to seed fresh scenes.
package template

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/scenesync/internal/core/snapshot"
)

// Source resolves a template key to a snapshot.
type Source interface {
	Load(ctx context.Context, key string) (snapshot.Snapshot, error)
}

//go:embed builtin/*.yaml
var builtinFS embed.FS

var extensions = []string{".yaml", ".yml", ".json"}

// Catalog reads templates from a file system. Keys map to
// <key>.yaml, <key>.yml or <key>.json at its root.
type Catalog struct {
	fsys fs.FS
}

func NewCatalog(fsys fs.FS) *Catalog {
	return &Catalog{fsys: fsys}
}

// Builtin returns the catalog compiled into the binary.
func Builtin() *Catalog {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	return NewCatalog(sub)
}

func (c *Catalog) Load(ctx context.Context, key string) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	for _, ext := range extensions {
		raw, err := fs.ReadFile(c.fsys, key+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read template %s: %w", key, err)
		}
		return decode(raw, ext)
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Keys lists the available template keys in order.
func (c *Catalog) Keys() ([]string, error) {
	entries, err := fs.ReadDir(c.fsys, ".")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if !knownExtension(ext) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ext)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func decode(raw []byte, ext string) (snapshot.Snapshot, error) {
	if ext == ".json" {
		return snapshot.Canonicalize(raw)
	}
	var doc snapshot.Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", snapshot.ErrMalformed, err)
	}
	return snapshot.Encode(doc)
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") || !fs.ValidPath(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func knownExtension(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Chain tries each source in turn and returns the first hit.
type Chain []Source

func (c Chain) Load(ctx context.Context, key string) (snapshot.Snapshot, error) {
	for _, src := range c {
		snap, err := src.Load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return snap, err
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}
