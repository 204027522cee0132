package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/kbuild/internal/logfields"
	"git.home.luguber.info/inful/kbuild/internal/manifest"
	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
)

// Dist copies files into the distribution directory and records each one in
// the manifest.
type Dist struct {
	dir      string
	manifest *manifest.Manifest
}

// NewDist returns a Dist writing into dir.
func NewDist(dir string, m *manifest.Manifest) *Dist {
	return &Dist{dir: dir, manifest: m}
}

// Dir is the distribution directory.
func (d *Dist) Dir() string { return d.dir }

// Copy places src at rel inside the distribution, unless an identical file
// is already there, and records it under key.
func (d *Dist) Copy(src, rel, key string, flags ...manifest.Flag) error {
	dst := filepath.Join(d.dir, rel)
	copied, err := fsutil.CopyIfChanged(src, dst)
	if err != nil {
		return fmt.Errorf("distribute %s: %w", rel, err)
	}
	if copied {
		slog.Debug("Distributed artifact", logfields.Path(rel))
	}
	d.manifest.Record(key, rel, flags...)
	return nil
}

// Record notes a file already written into the distribution directory.
func (d *Dist) Record(rel, key string, flags ...manifest.Flag) error {
	if _, err := os.Stat(filepath.Join(d.dir, rel)); err != nil {
		return fmt.Errorf("distributed artifact %s: %w", rel, err)
	}
	d.manifest.Record(key, rel, flags...)
	return nil
}
