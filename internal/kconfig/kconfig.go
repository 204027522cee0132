// Package kconfig reads and edits a kernel .config file.
package kconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const prefix = "CONFIG_"

// File is an in-memory .config. Edits keep the position of existing symbols
// and append new ones at the end.
type File struct {
	path  string
	lines []string
	index map[string]int
}

// Load reads the .config at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kernel config: %w", err)
	}
	f := &File{path: path, index: make(map[string]int)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		f.lines = append(f.lines, scanner.Text())
		if name, ok := symbolOf(scanner.Text()); ok {
			f.index[name] = len(f.lines) - 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan kernel config: %w", err)
	}
	return f, nil
}

// symbolOf extracts the symbol name (without CONFIG_) from an assignment or
// a "# CONFIG_X is not set" line.
func symbolOf(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, "# "+prefix); ok {
		if name, ok := strings.CutSuffix(rest, " is not set"); ok {
			return name, true
		}
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, prefix); ok {
		name, _, found := strings.Cut(rest, "=")
		return name, found
	}
	return "", false
}

func (f *File) set(name, line string) {
	if i, ok := f.index[name]; ok {
		f.lines[i] = line
		return
	}
	f.lines = append(f.lines, line)
	f.index[name] = len(f.lines) - 1
}

// Enable sets CONFIG_name=y.
func (f *File) Enable(name string) { f.set(name, prefix+name+"=y") }

// Disable marks CONFIG_name as not set.
func (f *File) Disable(name string) { f.set(name, "# "+prefix+name+" is not set") }

// SetString sets CONFIG_name to a quoted string value.
func (f *File) SetString(name, value string) {
	f.set(name, prefix+name+"="+strconv.Quote(value))
}

// Value returns the raw right-hand side of CONFIG_name and whether the
// symbol is assigned. A "not set" symbol reports false.
func (f *File) Value(name string) (string, bool) {
	i, ok := f.index[name]
	if !ok {
		return "", false
	}
	_, v, found := strings.Cut(f.lines[i], "=")
	if !found {
		return "", false
	}
	return v, true
}

// StringValue returns CONFIG_name with surrounding quotes removed.
func (f *File) StringValue(name string) (string, bool) {
	v, ok := f.Value(name)
	if !ok {
		return "", false
	}
	if s, err := strconv.Unquote(v); err == nil {
		return s, true
	}
	return v, true
}

// Enabled reports whether CONFIG_name is y or m.
func (f *File) Enabled(name string) bool {
	v, ok := f.Value(name)
	return ok && (v == "y" || v == "m")
}

// Has reports whether CONFIG_name is assigned any value.
func (f *File) Has(name string) bool {
	_, ok := f.Value(name)
	return ok
}

// Save writes the file back atomically.
func (f *File) Save() error {
	var b strings.Builder
	for _, l := range f.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".config.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp kernel config: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp kernel config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp kernel config: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("atomic rename kernel config: %w", err)
	}
	return nil
}
