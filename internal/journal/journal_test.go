package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Text string `json:"text"`
	N    int    `json:"n"`
}

var kinds = []string{"commit", "tag"}

func TestJournal_AppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, kinds)
	require.NoError(t, err)

	r1, err := j.Append("commit", note{Text: "first", N: 1})
	require.NoError(t, err)
	r2, err := j.Append("tag", note{Text: "second", N: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
	require.NoError(t, j.Close())

	reopened, err := Open(dir, kinds)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	var got []note
	require.NoError(t, reopened.Replay(func(r Record) error {
		var n note
		if err := r.Decode(&n); err != nil {
			return err
		}
		got = append(got, n)
		return nil
	}))
	assert.Equal(t, []note{{"first", 1}, {"second", 2}}, got)

	r3, err := reopened.Append("commit", note{Text: "third"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r3.Seq, "sequence continues after reopen")
}

func TestJournal_Append_UnknownKind(t *testing.T) {
	j, err := Open(t.TempDir(), kinds)
	require.NoError(t, err)

	_, err = j.Append("delete", note{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, j.Len())
}

func TestJournal_Append_AfterClose(t *testing.T) {
	j, err := Open(t.TempDir(), kinds)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = j.Append("commit", note{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournal_SkipsTamperedRecords(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, kinds)
	require.NoError(t, err)
	_, err = j.Append("commit", note{Text: "good"})
	require.NoError(t, err)
	_, err = j.Append("commit", note{Text: "tampered"})
	require.NoError(t, err)

	// Rewrite record 2 with a different payload but the old checksum.
	r, err := readRecord(j.path(2))
	require.NoError(t, err)
	r.Payload = []byte(`{"text":"evil"}`)
	require.NoError(t, os.Remove(j.path(2)))
	require.NoError(t, j.write(r))

	// Garbage file is skipped too.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000000000000099.rec"), []byte("junk"), 0600))

	reopened, err := Open(dir, kinds)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestJournal_KeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, kinds)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, keyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, int64(keySize), info.Size())
}

func TestJournal_Truncate(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, kinds)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := j.Append("commit", note{N: i})
		require.NoError(t, err)
	}

	removed, err := j.Truncate(4)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, j.Len())

	reopened, err := Open(dir, kinds)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
}

func TestJournal_ReplayStopsOnError(t *testing.T) {
	j, err := Open(t.TempDir(), kinds)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := j.Append("tag", note{N: i})
		require.NoError(t, err)
	}

	boom := errors.New("boom")
	calls := 0
	err = j.Replay(func(Record) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open("", kinds)
	assert.Error(t, err)

	_, err = Open(t.TempDir(), nil)
	assert.Error(t, err)

	_, err = Open("../escape", kinds)
	assert.Error(t, err)
}

func TestJournal_Append_TooLarge(t *testing.T) {
	j, err := Open(t.TempDir(), kinds)
	require.NoError(t, err)
	_, err = j.Append("commit", make([]byte, MaxPayload))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestJournal_ReplayReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, kinds)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := j.Append("commit", note{N: i})
		require.NoError(t, err)
	}

	// Tampering after Open is caught on Replay, since payloads are not
	// kept in memory.
	r, err := readRecord(j.path(2))
	require.NoError(t, err)
	r.Payload = []byte(`{"n":99}`)
	require.NoError(t, os.Remove(j.path(2)))
	require.NoError(t, j.write(r))

	var got []int
	require.NoError(t, j.Replay(func(r Record) error {
		var n note
		require.NoError(t, r.Decode(&n))
		got = append(got, n.N)
		return nil
	}))
	assert.Equal(t, []int{1, 3}, got)
	assert.Equal(t, []indexEntry{{1, "commit"}, {2, "commit"}, {3, "commit"}}, j.index)
}
