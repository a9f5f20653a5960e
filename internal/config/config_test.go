package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/patchworkmods/patchwork/internal/config/document"
	"github.com/patchworkmods/patchwork/internal/config/keys"
	"github.com/patchworkmods/patchwork/internal/event"
	"github.com/patchworkmods/patchwork/internal/logging"
)

type stubOwner struct {
	id   string
	path string
	bus  *event.Bus
}

func (o *stubOwner) ID() string              { return o.id }
func (o *stubOwner) ConfigPath() string      { return o.path }
func (o *stubOwner) Logger() *logging.Logger { return logging.NullLogger }
func (o *stubOwner) Events() *event.Bus      { return o.bus }

// newTestConfig builds a config over an in-memory document with a write
// counter in place of real file IO.
func newTestConfig(t *testing.T, owner *stubOwner) (*Config, *document.Document, *int) {
	t.Helper()
	if owner.path == "" {
		owner.path = filepath.Join(t.TempDir(), owner.id+".json")
	}
	doc := document.New(owner.id)
	writes := 0
	doc.SetWriteFile(func(path string, data []byte) error {
		writes++
		return nil
	})
	return NewWithDocument(owner, doc), doc, &writes
}

func TestLoadSectionFresh(t *testing.T) {
	cfg, _, _ := newTestConfig(t, &stubOwner{id: "owner"})

	count := keys.New[int]("count", keys.WithDefaultValue(10))
	section := MustSection("general", "1.0.0", count)

	if err := cfg.LoadSection(section, PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if got := section.State(); got != SectionLoaded {
		t.Errorf("State() = %v, want %v", got, SectionLoaded)
	}
	if !section.Saveable() {
		t.Error("Saveable() = false for a cleanly loaded section")
	}

	v, ok := count.TryGet()
	if !ok || v != 10 {
		t.Errorf("TryGet() = %v, %v, want 10, true", v, ok)
	}
}

func TestLoadSectionDuplicateID(t *testing.T) {
	cfg, _, _ := newTestConfig(t, &stubOwner{id: "owner"})

	if err := cfg.LoadSection(MustSection("general", "1.0.0"), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	err := cfg.LoadSection(MustSection("general", "2.0.0"), PolicyError)
	if !errors.Is(err, ErrDuplicateSection) {
		t.Errorf("LoadSection() error = %v, want ErrDuplicateSection", err)
	}
}

func TestLoadSectionInstanceReusePanics(t *testing.T) {
	cfg1, _, _ := newTestConfig(t, &stubOwner{id: "one"})
	cfg2, _, _ := newTestConfig(t, &stubOwner{id: "two"})

	section := MustSection("general", "1.0.0")
	if err := cfg1.LoadSection(section, PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("registering the same section instance twice did not panic")
		}
	}()
	_ = cfg2.LoadSection(section, PolicyError)
}

func TestDuplicateKeyIDAcrossSections(t *testing.T) {
	cfg, _, _ := newTestConfig(t, &stubOwner{id: "owner"})

	first := keys.New[int]("count")
	second := keys.New[string]("count")

	if err := cfg.LoadSection(MustSection("a", "1.0.0", first), PolicyError); err != nil {
		t.Fatalf("LoadSection(a) error = %v", err)
	}
	sb := MustSection("b", "1.0.0", second)
	if err := cfg.LoadSection(sb, PolicyError); err != nil {
		t.Fatalf("LoadSection(b) error = %v", err)
	}

	// The later section keeps loading but can no longer save.
	if sb.Saveable() {
		t.Error("later section with a clashing key id is still saveable")
	}

	// The merged lookup still resolves to the first definer.
	def, err := cfg.GetKey(keys.NewKey("count"))
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if def != keys.Definer(first) {
		t.Error("GetKey() resolved the clashing key, want the first-registered one")
	}
}

func TestGetKey(t *testing.T) {
	cfg, _, _ := newTestConfig(t, &stubOwner{id: "owner"})

	count := keys.New[int]("count")
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}

	if _, err := cfg.GetKey(keys.TypedKey[int]("count")); err != nil {
		t.Errorf("typed GetKey() error = %v", err)
	}
	if _, err := cfg.GetKey(keys.NewKey("count")); err != nil {
		t.Errorf("untyped GetKey() error = %v", err)
	}
	if _, err := cfg.GetKey(keys.TypedKey[string]("count")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("mistyped GetKey() error = %v, want ErrKeyNotFound", err)
	}
	if _, err := cfg.GetKey(keys.NewKey("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("unknown GetKey() error = %v, want ErrKeyNotFound", err)
	}
}

func TestSaveNoOpWithoutChanges(t *testing.T) {
	cfg, _, writes := newTestConfig(t, &stubOwner{id: "owner"})

	count := keys.New[int]("count", keys.WithDefaultValue(1))
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}

	if cfg.Save() {
		t.Error("Save() = true with no pending changes")
	}
	if *writes != 0 {
		t.Errorf("file writes = %d, want 0", *writes)
	}
}

func TestSaveWritesAndClears(t *testing.T) {
	bus := event.NewBus(nil)
	saved := 0
	bus.Subscribe("test", event.TopicConfigSaved, func(event.Event) { saved++ })

	cfg, doc, writes := newTestConfig(t, &stubOwner{id: "owner", bus: bus})

	count := keys.New[int]("count")
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if err := count.Set(5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !cfg.Save() {
		t.Fatal("Save() = false with pending changes")
	}
	if *writes != 1 {
		t.Errorf("file writes = %d, want 1", *writes)
	}
	if saved != 1 {
		t.Errorf("config-saved events = %d, want 1", saved)
	}

	raw := doc.Bytes()
	if got := gjson.GetBytes(raw, "Sections.general.count").Int(); got != 5 {
		t.Errorf("persisted count = %d, want 5", got)
	}
	if got := gjson.GetBytes(raw, "Sections.general.Version").String(); got != "1.0.0" {
		t.Errorf("persisted version = %q, want %q", got, "1.0.0")
	}

	// Changes were cleared, so a second save is a no-op.
	if cfg.Save() {
		t.Error("second Save() = true, want no-op")
	}
	if *writes != 1 {
		t.Errorf("file writes after second save = %d, want 1", *writes)
	}
}

func TestSaveSkipsUnsaveableSection(t *testing.T) {
	cfg, doc, writes := newTestConfig(t, &stubOwner{id: "owner"})

	a := keys.New[int]("shared")
	b := keys.New[int]("shared")
	good := keys.New[int]("good")

	if err := cfg.LoadSection(MustSection("first", "1.0.0", a), PolicyError); err != nil {
		t.Fatalf("LoadSection(first) error = %v", err)
	}
	if err := cfg.LoadSection(MustSection("second", "1.0.0", b, good), PolicyError); err != nil {
		t.Fatalf("LoadSection(second) error = %v", err)
	}

	_ = a.Set(1)
	_ = good.Set(2)

	if !cfg.Save() {
		t.Fatal("Save() = false")
	}
	if *writes != 1 {
		t.Errorf("file writes = %d, want 1", *writes)
	}

	raw := doc.Bytes()
	if !gjson.GetBytes(raw, "Sections.first.shared").Exists() {
		t.Error("saveable section was not persisted")
	}
	if gjson.GetBytes(raw, "Sections.second").Exists() {
		t.Error("unsaveable section leaked into the document")
	}
	// The unsaveable section's key keeps its pending changes.
	if !good.HasChanges() {
		t.Error("unsaveable section's key lost its pending changes")
	}
}

func TestSaveDeletesUnsetKeys(t *testing.T) {
	cfg, doc, _ := newTestConfig(t, &stubOwner{id: "owner"})

	count := keys.New[int]("count")
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}

	_ = count.Set(5)
	cfg.Save()
	count.Unset()
	if !cfg.Save() {
		t.Fatal("Save() after Unset = false")
	}

	if gjson.GetBytes(doc.Bytes(), "Sections.general.count").Exists() {
		t.Error("unset key still recorded in the document")
	}
}

func TestSaveReturnsFalseOnWriteFailure(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "owner.json")}
	doc := document.New(owner.id)
	doc.SetWriteFile(func(string, []byte) error { return errors.New("disk full") })
	cfg := NewWithDocument(owner, doc)

	count := keys.New[int]("count")
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	_ = count.Set(1)

	if cfg.Save() {
		t.Error("Save() = true despite a write failure")
	}
	// The pending change survives for a later retry.
	if !count.HasChanges() {
		t.Error("HasChanges() = false after a failed save")
	}
}

func TestPersistedRoundTrip(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "owner.json")}

	cfg, doc, _ := newTestConfig(t, owner)
	count := keys.New[int]("count")
	if err := cfg.LoadSection(MustSection("general", "1.0.0", count), PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	_ = count.Set(5)
	cfg.Save()

	// A second process: same document bytes, fresh section and key
	// instances, no default provider anywhere.
	doc2, err := document.Parse(doc.Bytes(), owner.id)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg2 := NewWithDocument(owner, doc2)
	count2 := keys.New[int]("count")
	if err := cfg2.LoadSection(MustSection("general", "1.0.0", count2), PolicyError); err != nil {
		t.Fatalf("reload LoadSection() error = %v", err)
	}

	v, ok := count2.TryGet()
	if !ok || v != 5 {
		t.Errorf("TryGet() after reload = %v, %v, want 5, true", v, ok)
	}
	if count2.HasChanges() {
		t.Error("HasChanges() = true right after loading persisted data")
	}
}

// persistedDoc fakes a document written by an earlier run: one section
// at the given version with count=5.
func persistedDoc(t *testing.T, owner, section, version string) *document.Document {
	t.Helper()
	doc := document.New(owner)
	if err := doc.SetSectionVersion(section, version); err != nil {
		t.Fatalf("SetSectionVersion() error = %v", err)
	}
	if err := doc.SetKeyRaw(section, "count", []byte("5")); err != nil {
		t.Fatalf("SetKeyRaw() error = %v", err)
	}
	return doc
}

func TestVersionCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		persisted string
		loads     bool
	}{
		{"equal", "2.1.0", true},
		{"older minor", "2.0.0", true},
		{"older patch", "2.1.5", true},
		{"newer minor", "2.2.0", false},
		{"newer major", "3.0.0", false},
		{"older major", "1.9.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "o.json")}
			doc := persistedDoc(t, "owner", "general", tt.persisted)
			cfg := NewWithDocument(owner, doc)

			count := keys.New[int]("count")
			section := MustSection("general", "2.1.0", count)
			err := cfg.LoadSection(section, PolicyError)

			if tt.loads {
				if err != nil {
					t.Fatalf("LoadSection() error = %v", err)
				}
				if v, ok := count.Peek(); !ok || v != 5 {
					t.Errorf("value = %v, %v, want 5, true", v, ok)
				}
				return
			}

			if !errors.Is(err, ErrIncompatibleVersion) {
				t.Fatalf("LoadSection() error = %v, want ErrIncompatibleVersion", err)
			}
			if section.State() != SectionFailed {
				t.Errorf("State() = %v, want %v", section.State(), SectionFailed)
			}
			if section.Saveable() {
				t.Error("incompatible section is still saveable under the error policy")
			}
			if _, ok := count.Peek(); ok {
				t.Error("incompatible persisted data was deserialized")
			}
		})
	}
}

func TestVersionPolicyClobber(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "o.json")}
	doc := persistedDoc(t, "owner", "general", "3.0.0")
	cfg := NewWithDocument(owner, doc)

	count := keys.New[int]("count")
	section := MustSection("general", "2.1.0", count)
	if err := cfg.LoadSection(section, PolicyClobber); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if section.State() != SectionLoaded {
		t.Errorf("State() = %v, want %v", section.State(), SectionLoaded)
	}
	if !section.Saveable() {
		t.Error("clobbered section is not saveable")
	}
	if _, ok := count.Peek(); ok {
		t.Error("clobbered persisted data was deserialized")
	}
	if doc.HasSection("general") {
		t.Error("clobbered section still recorded in the document")
	}
}

func TestVersionPolicyForceLoad(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "o.json")}
	doc := persistedDoc(t, "owner", "general", "3.0.0")
	cfg := NewWithDocument(owner, doc)

	count := keys.New[int]("count")
	section := MustSection("general", "2.1.0", count)
	if err := cfg.LoadSection(section, PolicyForceLoad); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if v, ok := count.Peek(); !ok || v != 5 {
		t.Errorf("value = %v, %v, want 5, true", v, ok)
	}
	if !section.Saveable() {
		t.Error("force-loaded section is not saveable")
	}
}

func TestUnparseableVersionUnderErrorPolicy(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "o.json")}
	doc := persistedDoc(t, "owner", "general", "not-a-version")
	cfg := NewWithDocument(owner, doc)

	count := keys.New[int]("count")
	section := MustSection("general", "2.1.0", count)
	err := cfg.LoadSection(section, PolicyError)
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("LoadSection() error = %v, want ErrBadVersion", err)
	}
	if _, ok := count.Peek(); ok {
		t.Error("untrusted persisted data was deserialized")
	}
}

func TestCorruptKeyMarksSectionUnsaveable(t *testing.T) {
	owner := &stubOwner{id: "owner", path: filepath.Join(t.TempDir(), "o.json")}
	doc := document.New("owner")
	if err := doc.SetSectionVersion("general", "1.0.0"); err != nil {
		t.Fatalf("SetSectionVersion() error = %v", err)
	}
	if err := doc.SetKeyRaw("general", "count", []byte(`"garbage"`)); err != nil {
		t.Fatalf("SetKeyRaw() error = %v", err)
	}
	if err := doc.SetKeyRaw("general", "name", []byte(`"fine"`)); err != nil {
		t.Fatalf("SetKeyRaw() error = %v", err)
	}
	cfg := NewWithDocument(owner, doc)

	count := keys.New[int]("count")
	name := keys.New[string]("name")
	section := MustSection("general", "1.0.0", count, name)
	if err := cfg.LoadSection(section, PolicyError); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}

	// The bad key is skipped, the good one still loads, and the section
	// stops saving so the untouched persisted data survives.
	if _, ok := count.Peek(); ok {
		t.Error("corrupt key value was deserialized")
	}
	if v, ok := name.Peek(); !ok || v != "fine" {
		t.Errorf("sibling key = %v, %v, want %q, true", v, ok, "fine")
	}
	if section.Saveable() {
		t.Error("section with a corrupt key is still saveable")
	}
}

func TestCompatibleVersions(t *testing.T) {
	mustV := func(s string) *semver.Version {
		v, err := semver.NewVersion(s)
		if err != nil {
			t.Fatalf("NewVersion(%q) error = %v", s, err)
		}
		return v
	}

	tests := []struct {
		persisted string
		current   string
		want      bool
	}{
		{"2.1.0", "2.1.0", true},
		{"2.0.9", "2.1.0", true},
		{"2.1.7", "2.1.0", true},
		{"2.2.0", "2.1.0", false},
		{"3.0.0", "2.1.0", false},
		{"1.9.0", "2.1.0", false},
	}
	for _, tt := range tests {
		if got := CompatibleVersions(mustV(tt.persisted), mustV(tt.current)); got != tt.want {
			t.Errorf("CompatibleVersions(%s, %s) = %v, want %v", tt.persisted, tt.current, got, tt.want)
		}
	}
}
