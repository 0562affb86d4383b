package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reserved = Reserved{CommandPrefix: "grcmd.", Manifest: DefaultName, Runner: "grunter.py"}

func writeFile(t *testing.T, dir, name, content string, mod time.Time) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
}

func jobDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, dir, "out.txt", "hello", base)
	writeFile(t, dir, "b.csv", "x,y\n1,2\n", base.Add(90*time.Second))
	writeFile(t, dir, "grcmd.update", "2024-03-01 11:00:00 UTC\n", base)
	writeFile(t, dir, "grunter.py", "print()\n", base)
	writeFile(t, dir, "job.status", "running\n", base)
	writeFile(t, dir, ".hidden", "x", base)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	return dir
}

func TestReserved_Match(t *testing.T) {
	for _, name := range []string{".git", "job.list", "job.status", "grcmd.update", "grunter.py", ""} {
		assert.True(t, reserved.Match(name), name)
	}
	for _, name := range []string{"out.txt", "jobs.txt", "grunter.py.bak"} {
		assert.False(t, reserved.Match(name), name)
	}
}

func TestList_SkipsReservedAndDirectories(t *testing.T) {
	entries, err := List(jobDir(t), reserved)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b.csv", entries[0].Name)
	assert.Equal(t, int64(8), entries[0].Size)
	assert.Equal(t, "out.txt", entries[1].Name)
	assert.Equal(t, int64(5), entries[1].Size)
}

func TestWrite_Golden(t *testing.T) {
	dir := jobDir(t)

	_, err := Write(dir, "", reserved)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, DefaultName))
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "job_list", data)
}

func TestWrite_ExcludesItselfOnRegeneration(t *testing.T) {
	dir := jobDir(t)
	_, err := Write(dir, "", reserved)
	require.NoError(t, err)

	entries, err := Write(dir, "", reserved)

	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, DefaultName, e.Name)
	}
}

func TestEncodeDecode(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []Entry{{Name: "a, b.txt", Size: 3, Modified: mod}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), "File,Size,Modified\n"))

	out, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0].Name, out[0].Name)
	assert.Equal(t, in[0].Size, out[0].Size)
	assert.True(t, in[0].Modified.Equal(out[0].Modified))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader(""))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("File,Size,Modified\na,notanumber,2024-03-01 12:00:00 UTC\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("File,Size,Modified\na,1,yesterday\n"))
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2024-03-01 12:30:00 UTC\n")
	require.True(t, ok)
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, 30, ts.Minute())

	_, ok = ParseTimestamp("out.txt")
	assert.False(t, ok)
	_, ok = ParseTimestamp("2024-03-01")
	assert.False(t, ok)
}

func TestFormatTimestamp_UsesUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 3, 1, 7, 0, 0, 0, loc)

	assert.Equal(t, "2024-03-01 12:00:00 UTC", FormatTimestamp(ts))
}
