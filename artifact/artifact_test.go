package artifact

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, files ...string) *Store {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("client\n"), 0o600))
	}
	s, err := New(root)
	require.NoError(t, err)
	return s
}

func TestListFiltersAndSortsDescending(t *testing.T) {
	s := newTestStore(t,
		"alice-20240101.ovpn",
		"alice-20240301.OVPN",
		"bob.ovpn",
		"notes.txt",
		"ovpn",
	)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "dir.ovpn"), 0o700))

	assert.Equal(t, []string{"bob.ovpn", "alice-20240301.OVPN", "alice-20240101.ovpn"}, s.List())
}

func TestListMissingOrEmptyDirectory(t *testing.T) {
	empty := newTestStore(t)
	assert.NotNil(t, empty.List())
	assert.Empty(t, empty.List())

	missing, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.NotNil(t, missing.List())
	assert.Empty(t, missing.List())
}

func TestListForOwnerCaseInsensitivePrefix(t *testing.T) {
	s := newTestStore(t, "Suporte_01-2.ovpn", "suporte_01-1.ovpn", "suporte_02.ovpn", "xsuporte_01.ovpn")

	assert.Equal(t, []string{"Suporte_01-2.ovpn", "suporte_01-1.ovpn"}, s.ListForOwner("SUPORTE_01"))
	assert.Empty(t, s.ListForOwner("nobody"))

	newest, ok := s.Newest("suporte_01")
	require.True(t, ok)
	assert.Equal(t, "Suporte_01-2.ovpn", newest, "casing must not outrank the sequence")

	_, ok = s.Newest("nobody")
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	s := newTestStore(t, "alice.ovpn")

	full, err := s.Resolve("alice.ovpn")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "alice.ovpn"), full)

	full, err = s.Resolve("Alice.OVPN")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "Alice.OVPN"), full)
}

func TestResolveRejectsInvalidReferences(t *testing.T) {
	s := newTestStore(t, "alice.ovpn")

	cases := []string{
		"",
		"alice.conf",
		"alice.ovpn.txt",
		"../alice.ovpn",
		"../../etc/passwd.ovpn",
		"sub/alice.ovpn",
		`sub\alice.ovpn`,
		"/etc/alice.ovpn",
		"alice\x00.ovpn",
		"../" + filepath.Base(s.Root()) + "-evil/x.ovpn",
	}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			full, err := s.Resolve(name)
			assert.ErrorIs(t, err, ErrInvalidReference)
			assert.Empty(t, full)
		})
	}
}

func TestWithinChecksSeparatorBoundary(t *testing.T) {
	root := string(filepath.Separator) + filepath.Join("data", "out")

	assert.True(t, within(root, filepath.Join(root, "x.ovpn")))
	assert.False(t, within(root, root+"-evil"+string(filepath.Separator)+"x.ovpn"))
	assert.False(t, within(root, root))
	assert.False(t, within(root, filepath.Dir(root)))
}

func TestOpen(t *testing.T) {
	s := newTestStore(t, "alice.ovpn")

	f, info, err := s.Open("alice.ovpn")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "alice.ovpn", info.Name())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "client\n", string(data))

	_, _, err = s.Open("bob.ovpn")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Open("../alice.ovpn")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestSymlinksAreNeitherListedNorOpened(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.ovpn")
	require.NoError(t, os.WriteFile(outside, []byte("secret\n"), 0o600))

	s := newTestStore(t, "alice.ovpn")
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Root(), "link.ovpn")))
	require.NoError(t, os.Symlink(filepath.Join(s.Root(), "alice.ovpn"), filepath.Join(s.Root(), "inner.ovpn")))

	assert.Equal(t, []string{"alice.ovpn"}, s.List())
	for _, name := range []string{"link.ovpn", "inner.ovpn"} {
		f, _, err := s.Open(name)
		assert.ErrorIs(t, err, ErrNotFound, name)
		assert.Nil(t, f)
	}
}

func TestWithExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.conf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.ovpn"), nil, 0o600))

	s, err := New(root, WithExtension("CONF"))
	require.NoError(t, err)
	assert.Equal(t, ".conf", s.Extension())
	assert.Equal(t, []string{"a.conf"}, s.List())

	_, err = s.Resolve("b.ovpn")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestListCaseOnlyDifferencesUseByteOrder(t *testing.T) {
	s := newTestStore(t, "alice.ovpn", "ALICE.ovpn", "Bob.ovpn")
	assert.Equal(t, []string{"Bob.ovpn", "alice.ovpn", "ALICE.ovpn"}, s.List())
}

func TestWithMaxEntries(t *testing.T) {
	s := newTestStore(t, "c.ovpn", "a.ovpn", "e.ovpn", "b.ovpn", "d.ovpn")
	capped, err := New(s.Root(), WithMaxEntries(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"e.ovpn", "d.ovpn"}, capped.List(), "the cap keeps the newest bundles")
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
