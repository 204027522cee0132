package staging

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/kbuild/internal/util/fsutil"
	"git.home.luguber.info/inful/kbuild/internal/util/sets"
)

// ModulesLoadFile lists the kept modules in load order.
const ModulesLoadFile = "modules.load"

// Filter selects modules by name. A nil Allow keeps every module not
// blocked; a non-nil Allow also defines the load order.
type Filter struct {
	Allow []string
	Block []string
}

// Selection is the result of filtering one staging tree.
type Selection struct {
	// Release is the kernel release directory under lib/modules.
	Release string
	// Modules are kept module paths relative to the release directory, in
	// load order.
	Modules []string
}

// ModuleName normalizes a module file or list entry to the name the kernel
// uses: no directory, no .ko suffix, dashes as underscores.
func ModuleName(s string) string {
	s = filepath.Base(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".ko")
	return strings.ReplaceAll(s, "-", "_")
}

// ReadModuleList reads an allow- or block-list file. Blank lines and '#'
// comments are skipped and a leading "blocklist" keyword is accepted.
func ReadModuleList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	out := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "blocklist" && len(fields) > 1 {
			fields = fields[1:]
		}
		out = append(out, fields[0])
	}
	return out, scanner.Err()
}

// ReleaseDir returns the single kernel release directory under
// root/lib/modules.
func ReleaseDir(root string) (string, error) {
	base := filepath.Join(root, "lib", "modules")
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("read module tree: %w", err)
	}
	var releases []string
	for _, e := range entries {
		if e.IsDir() {
			releases = append(releases, e.Name())
		}
	}
	if len(releases) != 1 {
		return "", fmt.Errorf("expected one kernel release under %s, found %d", base, len(releases))
	}
	return releases[0], nil
}

// FilterModules copies the module tree of src into dst keeping only the
// modules f selects, and writes modules.load in load order. Module metadata
// files are copied unchanged.
func FilterModules(src, dst string, f Filter) (Selection, error) {
	release, err := ReleaseDir(src)
	if err != nil {
		return Selection{}, err
	}
	srcRel := filepath.Join(src, "lib", "modules", release)
	dstRel := filepath.Join(dst, "lib", "modules", release)

	blocked := sets.New[string]()
	for _, b := range f.Block {
		blocked.Add(ModuleName(b))
	}
	var allowed sets.Set[string]
	if f.Allow != nil {
		allowed = sets.New[string]()
		for _, a := range f.Allow {
			allowed.Add(ModuleName(a))
		}
	}

	byName := make(map[string]string)
	err = fsutil.CopyTree(srcRel, dstRel, func(rel string) bool {
		if !strings.HasSuffix(rel, ".ko") {
			return filepath.Base(rel) != ModulesLoadFile
		}
		name := ModuleName(rel)
		if blocked.Has(name) || (allowed != nil && !allowed.Has(name)) {
			return false
		}
		byName[name] = filepath.ToSlash(rel)
		return true
	})
	if err != nil {
		return Selection{}, fmt.Errorf("copy module tree: %w", err)
	}

	sel := Selection{Release: release}
	if f.Allow != nil {
		for _, a := range f.Allow {
			if p, ok := byName[ModuleName(a)]; ok {
				sel.Modules = append(sel.Modules, p)
				delete(byName, ModuleName(a))
			}
		}
	} else {
		for _, p := range byName {
			sel.Modules = append(sel.Modules, p)
		}
		slices.Sort(sel.Modules)
	}

	var b strings.Builder
	for _, m := range sel.Modules {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dstRel, ModulesLoadFile), []byte(b.String()), 0o644); err != nil {
		return Selection{}, fmt.Errorf("write %s: %w", ModulesLoadFile, err)
	}
	return sel, nil
}

// MissingFromTree returns allow-list entries with no matching module in the
// staging tree at root, for module list drift reporting.
func MissingFromTree(root string, allow []string) ([]string, error) {
	present := sets.New[string]()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".ko") {
			present.Add(ModuleName(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, a := range allow {
		if !present.Has(ModuleName(a)) {
			missing = append(missing, a)
		}
	}
	return missing, nil
}
