package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptRecent(t *testing.T) {
	transcript, err := OpenTranscript(filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)
	defer transcript.Close()

	base := time.UnixMilli(1_700_000_000_000)
	for i, msg := range []string{"one", "two", "three"} {
		require.NoError(t, transcript.Record("alice", msg, base.Add(time.Duration(i)*time.Second)))
	}

	entries, err := transcript.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
	assert.Equal(t, "alice", entries[1].From)
	assert.True(t, entries[1].SentAt.Equal(base.Add(2*time.Second)))
}

func TestTranscriptRecentEmpty(t *testing.T) {
	transcript, err := OpenTranscript(filepath.Join(t.TempDir(), "sub", "transcript.db"))
	require.NoError(t, err)
	defer transcript.Close()

	entries, err := transcript.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscriptPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")

	transcript, err := OpenTranscript(path)
	require.NoError(t, err)
	require.NoError(t, transcript.Record("bob", "hello", time.Now()))
	require.NoError(t, transcript.Close())

	transcript, err = OpenTranscript(path)
	require.NoError(t, err)
	defer transcript.Close()

	entries, err := transcript.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].From)
}
