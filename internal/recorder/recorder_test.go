package recorder

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(i int, done bool) Record {
	return Record{"action": float64(i % 4), "reward": float64(i), "done": done, "frameId": float64(i)}
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "trial_user_abc", TrialFileName("user_abc"))
	assert.Equal(t, "episode_3_user_42", EpisodeFileName(3, "42"))
}

func TestEpisodeModeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, ModeEpisode)
	require.NoError(t, err)

	require.NoError(t, r.Rotate(EpisodeFileName(0, "u")))
	var want []Record
	for i := 0; i < 50; i++ {
		rec := step(i, i == 49)
		want = append(want, rec)
		require.NoError(t, r.Append(rec))
	}

	// durable before finalize
	got, err := ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, r.Finalize())
	assert.False(t, r.IsOpen())
	assert.Equal(t, 50, r.Written())

	got, err = ReadFile(filepath.Join(dir, "episode_0_user_u"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRotateClosesPrevious(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, ModeEpisode)
	require.NoError(t, err)

	require.NoError(t, r.Rotate(EpisodeFileName(0, "u")))
	require.NoError(t, r.Append(step(0, true)))
	first := r.Path()

	require.NoError(t, r.Rotate(EpisodeFileName(1, "u")))
	require.NoError(t, r.Append(step(1, false)))
	require.NoError(t, r.Finalize())

	a, err := ReadFile(first)
	require.NoError(t, err)
	b, err := ReadFile(r.Path())
	require.NoError(t, err)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.NotEqual(t, first, r.Path())
}

func TestAppendWithoutFile(t *testing.T) {
	r, err := New(t.TempDir(), ModeEpisode)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Append(step(0, false)), ErrNotOpen)
	assert.NoError(t, r.Finalize(), "finalize with nothing open is a no-op")
}

func TestAppendUnencodable(t *testing.T) {
	r, err := New(t.TempDir(), ModeEpisode)
	require.NoError(t, err)
	require.NoError(t, r.Rotate("episode_0_user_u"))
	err = r.Append(Record{"reward": math.NaN()})
	assert.True(t, errors.Is(err, ErrEncode), "got %v", err)
}

func TestRotateUnwritable(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, ModeEpisode)
	require.NoError(t, err)

	// a directory where the file should be
	require.NoError(t, os.Mkdir(filepath.Join(dir, "episode_0_user_u"), 0755))
	assert.Error(t, r.Rotate("episode_0_user_u"))
	assert.False(t, r.IsOpen())
}

func TestTrialModeWritesOnlyOnFinalize(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, ModeTrial)
	require.NoError(t, err)

	name := TrialFileName("u")
	require.NoError(t, r.Rotate(name))
	require.NoError(t, r.Append(step(0, false)))
	require.NoError(t, r.Rotate(name)) // next episode, same file
	require.NoError(t, r.Append(step(1, true)))

	info, err := os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "nothing is written before finalize")
	assert.Equal(t, 2, r.Buffered())

	require.NoError(t, r.Finalize())
	got, err := ReadTrialFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, []Record{step(0, false), step(1, true)}, got)
	assert.Zero(t, r.Buffered())
}

func TestTrialFileAppendedAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		r, err := New(dir, ModeTrial)
		require.NoError(t, err)
		require.NoError(t, r.Rotate(TrialFileName("u")))
		require.NoError(t, r.Append(step(i, true)))
		require.NoError(t, r.Finalize())
	}
	got, err := ReadTrialFile(filepath.Join(dir, TrialFileName("u")))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadToleratesTruncatedTail(t *testing.T) {
	input := `{"action":0}` + "\n" + `{"action":1}` + "\n" + `{"action":2,"obs`
	got, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Record{{"action": float64(0)}, {"action": float64(1)}}, got)
}

func TestReadRejectsCorruptMiddle(t *testing.T) {
	input := `{"action":0}` + "\n" + `garbage` + "\n" + `{"action":1}` + "\n"
	got, err := Read(strings.NewReader(input))
	assert.Error(t, err)
	assert.Len(t, got, 1)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadTraceFormats(t *testing.T) {
	lines := `{"action":0}` + "\n" + `{"action":1}` + "\n"
	arrays := ` [{"action":0}]` + "\n" + `[{"action":1}]` + "\n"
	want := []Record{{"action": float64(0)}, {"action": float64(1)}}

	tests := []struct {
		name  string
		input []byte
	}{
		{"episode lines", []byte(lines)},
		{"trial arrays", []byte(arrays)},
		{"gzipped episode lines", gzipBytes(t, []byte(lines))},
		{"gzipped trial arrays", gzipBytes(t, []byte(arrays))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadTrace(bytes.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestReadTraceEmptyAndCorrupt(t *testing.T) {
	got, err := ReadTrace(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadTrace(bytes.NewReader([]byte{0x1f, 0x8b, 0x00}))
	assert.Error(t, err)

	_, err = ReadTrace(strings.NewReader(`[{"action":0}] {"action":1}`))
	assert.Error(t, err)
}

func TestReadTraceFileMatchesRecorderOutput(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, ModeTrial)
	require.NoError(t, err)
	require.NoError(t, r.Rotate(TrialFileName("u")))
	require.NoError(t, r.Append(step(0, false)))
	require.NoError(t, r.Append(step(1, true)))
	require.NoError(t, r.Finalize())

	got, err := ReadTraceFile(filepath.Join(dir, TrialFileName("u")))
	require.NoError(t, err)
	assert.Equal(t, []Record{step(0, false), step(1, true)}, got)

	_, err = ReadTraceFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecordCloneIsIndependent(t *testing.T) {
	orig := Record{"a": 1}
	c := orig.Clone()
	c["a"] = 2
	assert.Equal(t, 1, orig["a"])
}
