// Package kversion compares the release of a kernel source tree with the
// one embedded in a built kernel image.
package kversion

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
)

var (
	ErrNoVersion      = errors.New("kernel Makefile does not declare a version")
	ErrNoEmbedded     = errors.New("no embedded Linux version string")
	embeddedMarker    = []byte("Linux version ")
	makefileVariables = []string{"VERSION", "PATCHLEVEL", "SUBLEVEL", "EXTRAVERSION"}
)

// Base is the release declared by the kernel Makefile.
type Base struct {
	Semver       *semver.Version
	Extraversion string
}

func (b Base) String() string {
	return fmt.Sprintf("%d.%d.%d%s", b.Semver.Major(), b.Semver.Minor(), b.Semver.Patch(), b.Extraversion)
}

// ReadBase parses VERSION, PATCHLEVEL, SUBLEVEL and EXTRAVERSION from the
// top-level Makefile of kernelDir.
func ReadBase(kernelDir string) (Base, error) {
	f, err := os.Open(filepath.Join(kernelDir, "Makefile"))
	if err != nil {
		return Base{}, fmt.Errorf("open kernel Makefile: %w", err)
	}
	defer func() { _ = f.Close() }()

	vars := make(map[string]string, len(makefileVariables))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, name := range makefileVariables {
			if _, seen := vars[name]; seen {
				continue
			}
			if v, ok := assignment(scanner.Text(), name); ok {
				vars[name] = v
			}
		}
		if len(vars) == len(makefileVariables) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Base{}, fmt.Errorf("scan kernel Makefile: %w", err)
	}
	if vars["VERSION"] == "" || vars["PATCHLEVEL"] == "" {
		return Base{}, ErrNoVersion
	}
	sub := vars["SUBLEVEL"]
	if sub == "" {
		sub = "0"
	}
	v, err := semver.StrictNewVersion(vars["VERSION"] + "." + vars["PATCHLEVEL"] + "." + sub)
	if err != nil {
		return Base{}, fmt.Errorf("%w: %w", ErrNoVersion, err)
	}
	return Base{Semver: v, Extraversion: vars["EXTRAVERSION"]}, nil
}

// assignment matches "NAME = value" with any spacing around '='.
func assignment(line, name string) (string, bool) {
	rest, ok := strings.CutPrefix(line, name)
	if !ok {
		return "", false
	}
	rest = strings.TrimLeft(rest, " \t")
	rest, ok = strings.CutPrefix(rest, "=")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Dirty reports whether tracked files in the repository containing dir
// differ from HEAD. Untracked files are ignored, as are trees outside any
// repository and repositories without commits.
func Dirty(dir string) (bool, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open source repository: %w", err)
	}
	if _, err := repo.Head(); err != nil {
		return false, nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, nil
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("read worktree status: %w", err)
	}
	for _, s := range status {
		if s.Worktree == git.Untracked && s.Staging == git.Untracked {
			continue
		}
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

// FromBase reports whether release, as printed by "make kernelrelease",
// starts with the version the Makefile declares.
func FromBase(base Base, release string) bool {
	return base.Semver != nil && strings.HasPrefix(release, base.String())
}

// EmbeddedVersion extracts the release following "Linux version " in a
// kernel image.
func EmbeddedVersion(vmlinux string) (string, error) {
	data, err := os.ReadFile(vmlinux)
	if err != nil {
		return "", fmt.Errorf("read kernel image: %w", err)
	}
	i := bytes.Index(data, embeddedMarker)
	if i < 0 {
		return "", ErrNoEmbedded
	}
	rest := data[i+len(embeddedMarker):]
	end := bytes.IndexAny(rest, " \x00\n")
	if end <= 0 {
		return "", ErrNoEmbedded
	}
	return string(rest[:end]), nil
}

// Matches reports whether an already-built image can be reused: the releases
// must be identical and the one reported by the tree must not be dirty.
func Matches(release, embedded string) bool {
	return release != "" && release == embedded && !strings.Contains(release, "dirty")
}
