package champion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFallsBackToSeededDefaultWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "champion.json"), "base prompt", "seed patch", nil)
	cur := s.Current()
	assert.Equal(t, "base prompt", cur.Base)
	assert.Equal(t, "seed patch", cur.Patch)
	assert.Equal(t, "base prompt\nseed patch", cur.Composed)
}

func TestNewStoreFallsBackOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "champion.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	s := NewStore(path, "base", "patch", nil)
	assert.Equal(t, "base", s.Current().Base)
}

func TestPromoteUpdatesPatchAndAppendsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "champion.json")
	s := NewStore(path, "base", "patch-v1", nil)

	require.NoError(t, s.Promote("patch-v2", time.Unix(1000, 0)))
	cur := s.Current()
	assert.Equal(t, "patch-v2", cur.Patch)
	assert.Equal(t, "base", cur.Base)
	require.Len(t, cur.History, 1)
	assert.Equal(t, "patch-v1", cur.History[0].Patch)
}

func TestPromotePersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "champion.json")
	s := NewStore(path, "base", "patch-v1", nil)
	require.NoError(t, s.Promote("patch-v2", time.Unix(2000, 0)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, "patch-v2", state.Patch)

	_, statErr := os.Stat(path + defaultTempSuffix)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPromoteReloadRoundTripsBasePatchComposed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "champion.json")
	s1 := NewStore(path, "base", "patch-v1", nil)
	require.NoError(t, s1.Promote("patch-v2", time.Unix(3000, 0)))

	s2 := NewStore(path, "base", "patch-v1", nil)
	cur := s2.Current()
	assert.Equal(t, s1.Current().Base, cur.Base)
	assert.Equal(t, s1.Current().Patch, cur.Patch)
	assert.Equal(t, s1.Current().Composed, cur.Composed)
}

func TestHistoryBoundedToMaxHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "champion.json")
	s := NewStore(path, "base", "patch-0", nil)
	for i := 1; i <= MaxHistory+5; i++ {
		require.NoError(t, s.Promote("patch-"+string(rune('a'+i%26)), time.Unix(int64(i), 0)))
	}
	assert.Len(t, s.Current().History, MaxHistory)
}
