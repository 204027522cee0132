// Package manifest records the artifacts a build distributes and writes the
// metadata files downstream tooling reads from the distribution directory.
package manifest

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// Well-known artifact keys. Distributed files without a special role use
// KeyFile.
const (
	KeyKernelBinary   = "kernel_binary"
	KeyModulesArchive = "modules_archive"
	KeyKMIDefinition  = "kmi_definition"
	KeyKMISymbolList  = "kmi_symbol_list"
	KeyFile           = "file"
)

const (
	ABIPropFile   = "abi.prop"
	ArtifactsFile = "artifacts.yaml"
)

// Flag marks an artifact for downstream consumers.
type Flag uint8

const (
	FlagMonitored Flag = 1 << iota
	FlagEnforced
)

// Entry is one recorded artifact.
type Entry struct {
	Key   string
	Path  string
	Flags Flag
}

// Has reports whether f is set.
func (e Entry) Has(f Flag) bool { return e.Flags&f != 0 }

// Manifest is the append-only artifact record of one build.
type Manifest struct {
	BuildID       string
	KernelRelease string
	ConfigHash    string
	Timestamp     time.Time
	entries       []Entry
}

// New returns an empty manifest for the build.
func New(buildID string) *Manifest {
	return &Manifest{BuildID: buildID, Timestamp: time.Now().UTC()}
}

// Record appends an artifact. path is relative to the distribution
// directory. Recording the same key and path twice keeps the first entry and
// merges flags.
func (m *Manifest) Record(key, path string, flags ...Flag) {
	var f Flag
	for _, fl := range flags {
		f |= fl
	}
	path = filepath.ToSlash(path)
	for i := range m.entries {
		if m.entries[i].Key == key && m.entries[i].Path == path {
			m.entries[i].Flags |= f
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Path: path, Flags: f})
}

// Entries returns the recorded artifacts in recording order.
func (m *Manifest) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Get returns the most recent entry for key.
func (m *Manifest) Get(key string) (Entry, bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Key == key {
			return m.entries[i], true
		}
	}
	return Entry{}, false
}

// ABIProp renders abi.prop. The line order is fixed; consumers parse plain
// KEY=value lines.
func (m *Manifest) ABIProp() string {
	var b strings.Builder
	line := func(k, v string) { fmt.Fprintf(&b, "%s=%s\n", k, v) }
	if def, ok := m.Get(KeyKMIDefinition); ok {
		line("KMI_DEFINITION", def.Path)
		if def.Has(FlagMonitored) {
			line("KMI_MONITORED", "1")
		}
		if def.Has(FlagEnforced) {
			line("KMI_ENFORCED", "1")
		}
	}
	if sl, ok := m.Get(KeyKMISymbolList); ok {
		line("KMI_SYMBOL_LIST", sl.Path)
	}
	if kb, ok := m.Get(KeyKernelBinary); ok {
		line("KERNEL_BINARY", kb.Path)
	}
	if ma, ok := m.Get(KeyModulesArchive); ok {
		line("MODULES_ARCHIVE", ma.Path)
	}
	return b.String()
}

// WriteABIProp writes abi.prop at the top of distDir.
func (m *Manifest) WriteABIProp(distDir string) error {
	return fsutil.WriteFileAtomic(filepath.Join(distDir, ABIPropFile), []byte(m.ABIProp()), 0o644)
}

// Document is the serialized form of artifacts.yaml.
type Document struct {
	BuildID       string     `yaml:"build_id"`
	KernelRelease string     `yaml:"kernel_release,omitempty"`
	ConfigHash    string     `yaml:"config_hash,omitempty"`
	Timestamp     time.Time  `yaml:"timestamp"`
	Artifacts     []Artifact `yaml:"artifacts"`
}

// Artifact is one entry of artifacts.yaml.
type Artifact struct {
	Key       string `yaml:"key"`
	Path      string `yaml:"path"`
	SHA256    string `yaml:"sha256,omitempty"`
	Monitored bool   `yaml:"monitored,omitempty"`
	Enforced  bool   `yaml:"enforced,omitempty"`
}

// Document hashes every recorded artifact found under distDir. Missing
// files are listed without a hash.
func (m *Manifest) Document(distDir string) (*Document, error) {
	doc := &Document{
		BuildID:       m.BuildID,
		KernelRelease: m.KernelRelease,
		ConfigHash:    m.ConfigHash,
		Timestamp:     m.Timestamp,
		Artifacts:     make([]Artifact, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		sum, err := hashFile(filepath.Join(distDir, filepath.FromSlash(e.Path)))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		doc.Artifacts = append(doc.Artifacts, Artifact{
			Key:       e.Key,
			Path:      e.Path,
			SHA256:    sum,
			Monitored: e.Has(FlagMonitored),
			Enforced:  e.Has(FlagEnforced),
		})
	}
	return doc, nil
}

// WriteYAML writes artifacts.yaml into distDir.
func (m *Manifest) WriteYAML(distDir string) error {
	doc, err := m.Document(distDir)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal artifacts manifest: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(distDir, ArtifactsFile), data, 0o644)
}

// ReadYAML loads a previously written artifacts.yaml.
func ReadYAML(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts manifest: %w", err)
	}
	return &doc, nil
}

// ConfigHash returns a deterministic hash of configuration values, used to
// tell whether two builds were configured identically.
func ConfigHash(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, values[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
