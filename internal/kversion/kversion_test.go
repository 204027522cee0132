package kversion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const makefile = `# SPDX-License-Identifier: GPL-2.0
VERSION = 6
PATCHLEVEL = 1
SUBLEVEL = 25
EXTRAVERSION =
NAME = Curry Ramen
`

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), []byte(makefile), 0o600))
	return dir
}

func commitAll(t *testing.T, dir string) {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("Makefile")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "kbuild", Email: "kbuild@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)
}

func TestReadBase(t *testing.T) {
	base, err := ReadBase(writeTree(t))
	require.NoError(t, err)
	assert.Equal(t, "6.1.25", base.String())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:\n"), 0o600))
	_, err = ReadBase(dir)
	require.ErrorIs(t, err, ErrNoVersion)
}

func TestDirtyWithoutRepository(t *testing.T) {
	dirty, err := Dirty(writeTree(t))
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestDirtyTracksModifiedFilesOnly(t *testing.T) {
	src := writeTree(t)
	commitAll(t, src)

	dirty, err := Dirty(src)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("x"), 0o600))
	dirty, err = Dirty(src)
	require.NoError(t, err)
	assert.False(t, dirty, "untracked files do not make the tree dirty")

	require.NoError(t, os.WriteFile(filepath.Join(src, "Makefile"), []byte(makefile+"# local\n"), 0o600))
	dirty, err = Dirty(src)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestDirtyOnTaggedHead(t *testing.T) {
	src := writeTree(t)
	commitAll(t, src)
	repo, err := git.PlainOpen(src)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	_, err = repo.CreateTag("v6.1.25", head.Hash(), nil)
	require.NoError(t, err)

	dirty, err := Dirty(src)
	require.NoError(t, err)
	assert.False(t, dirty)

	// A release string from a tagged commit carries no SCM suffix and still
	// matches the image built from it.
	assert.True(t, Matches("6.1.25", "6.1.25"))
}

func TestFromBase(t *testing.T) {
	base, err := ReadBase(writeTree(t))
	require.NoError(t, err)
	assert.True(t, FromBase(base, "6.1.25"))
	assert.True(t, FromBase(base, "6.1.25-android14-11-gdeadbeef1234"))
	assert.False(t, FromBase(base, "make: *** No rule to make target"))
	assert.False(t, FromBase(Base{}, "6.1.25"))
}

func TestEmbeddedVersion(t *testing.T) {
	p := filepath.Join(t.TempDir(), "vmlinux")
	blob := append([]byte{0x7f, 'E', 'L', 'F', 0, 0}, []byte("Linux version 6.1.25-android14-gabc (builder@host) #1 SMP\x00")...)
	require.NoError(t, os.WriteFile(p, blob, 0o600))

	v, err := EmbeddedVersion(p)
	require.NoError(t, err)
	assert.Equal(t, "6.1.25-android14-gabc", v)

	require.NoError(t, os.WriteFile(p, []byte("nothing here"), 0o600))
	_, err = EmbeddedVersion(p)
	require.ErrorIs(t, err, ErrNoEmbedded)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		release, embedded string
		want              bool
	}{
		{"6.1.25-g0123456789ab", "6.1.25-g0123456789ab", true},
		{"6.1.25-g0123456789ab-dirty", "6.1.25-g0123456789ab-dirty", false},
		{"6.1.25", "6.1.26", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.release, tt.embedded), "%s vs %s", tt.release, tt.embedded)
	}
}
