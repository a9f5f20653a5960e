// Package document wraps the on-disk config document format:
//
//	{
//	  "Owner": "<owner id>",
//	  "Sections": {
//	    "<SectionId>": { "Version": "<semver>", "<KeyId>": <value>, ... }
//	  }
//	}
//
// The document is kept as raw JSON bytes and read and written by path
// with gjson/sjson, so individual key values round-trip untouched.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Document errors.
var (
	// ErrOwnerMismatch is returned when a loaded document belongs to a
	// different owner.
	ErrOwnerMismatch = errors.New("document owner mismatch")

	// ErrMalformed is returned when the file is not a JSON object.
	ErrMalformed = errors.New("malformed config document")
)

// versionField is the reserved per-section field holding its version.
const versionField = "Version"

// WriteFileFunc persists document bytes to a path. Swappable for tests.
type WriteFileFunc func(path string, data []byte) error

// defaultWriteFile writes via a temp file and rename so a failed write
// never truncates the previous document.
func defaultWriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Document is one owner's config document.
type Document struct {
	mu        sync.Mutex
	owner     string
	raw       []byte
	writeFile WriteFileFunc
}

// New creates an empty document for the owner.
func New(owner string) *Document {
	raw, _ := sjson.SetBytes([]byte(`{}`), "Owner", owner)
	raw, _ = sjson.SetRawBytes(raw, "Sections", []byte(`{}`))
	return &Document{owner: owner, raw: raw, writeFile: defaultWriteFile}
}

// Parse builds a document from raw bytes, validating the owner. A
// missing Sections object is tolerated and recreated empty.
func Parse(data []byte, owner string) (*Document, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, ErrMalformed
	}
	recorded := gjson.GetBytes(data, "Owner").String()
	if recorded != owner {
		return nil, fmt.Errorf("%w: document records %q, expected %q", ErrOwnerMismatch, recorded, owner)
	}
	if !gjson.GetBytes(data, "Sections").IsObject() {
		data, _ = sjson.SetRawBytes(data, "Sections", []byte(`{}`))
	}
	return &Document{owner: owner, raw: data, writeFile: defaultWriteFile}, nil
}

// Load reads the document at path. A missing file yields a fresh empty
// document for the owner.
func Load(path, owner string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(owner), nil
		}
		return nil, fmt.Errorf("read config document: %w", err)
	}
	return Parse(data, owner)
}

// SetWriteFile replaces the file-writing function. Intended for tests.
func (d *Document) SetWriteFile(fn WriteFileFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn != nil {
		d.writeFile = fn
	}
}

// Owner returns the owner id the document belongs to.
func (d *Document) Owner() string {
	return d.owner
}

// Bytes returns a copy of the raw document.
func (d *Document) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.raw))
	copy(out, d.raw)
	return out
}

// HasSection reports whether the document has a sub-object for the
// section id.
func (d *Document) HasSection(sectionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gjson.GetBytes(d.raw, sectionPath(sectionID)).IsObject()
}

// SectionIDs returns the ids of all recorded sections.
func (d *Document) SectionIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	gjson.GetBytes(d.raw, "Sections").ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})
	return ids
}

// SectionVersion returns the recorded version string of a section.
func (d *Document) SectionVersion(sectionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := gjson.GetBytes(d.raw, sectionPath(sectionID)+"."+versionField)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// SetSectionVersion records a section's version, creating the section
// sub-object if needed.
func (d *Document) SetSectionVersion(sectionID, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := sjson.SetBytes(d.raw, sectionPath(sectionID)+"."+versionField, version)
	if err != nil {
		return err
	}
	d.raw = raw
	return nil
}

// KeyRaw returns the serialized value of a key within a section.
func (d *Document) KeyRaw(sectionID, keyID string) ([]byte, bool) {
	if keyID == versionField {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res := gjson.GetBytes(d.raw, sectionPath(sectionID)+"."+escapePath(keyID))
	if !res.Exists() {
		return nil, false
	}
	return []byte(res.Raw), true
}

// SetKeyRaw stores the serialized value of a key within a section.
func (d *Document) SetKeyRaw(sectionID, keyID string, raw []byte) error {
	if keyID == versionField {
		return fmt.Errorf("key id %q is reserved", versionField)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	updated, err := sjson.SetRawBytes(d.raw, sectionPath(sectionID)+"."+escapePath(keyID), raw)
	if err != nil {
		return err
	}
	d.raw = updated
	return nil
}

// DeleteKey removes a key's recorded value from a section.
func (d *Document) DeleteKey(sectionID, keyID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated, err := sjson.DeleteBytes(d.raw, sectionPath(sectionID)+"."+escapePath(keyID))
	if err != nil {
		return err
	}
	d.raw = updated
	return nil
}

// DeleteSection removes a section's sub-object entirely.
func (d *Document) DeleteSection(sectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated, err := sjson.DeleteBytes(d.raw, sectionPath(sectionID))
	if err != nil {
		return err
	}
	d.raw = updated
	return nil
}

// WriteTo persists the document to path.
func (d *Document) WriteTo(path string) error {
	d.mu.Lock()
	data := make([]byte, len(d.raw))
	copy(data, d.raw)
	fn := d.writeFile
	d.mu.Unlock()

	return fn(path, data)
}

func sectionPath(sectionID string) string {
	return "Sections." + escapePath(sectionID)
}

// escapePath escapes gjson/sjson path syntax inside an id so ids with
// dots or wildcards address a single literal field.
func escapePath(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
