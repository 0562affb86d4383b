// Package manifest lists the files of a job directory and reads the job
// metadata formats that live next to them.
//
// The manifest is a CSV file (job.list by default) with header
// File,Size,Modified and one sorted row per non-reserved file. It is
// regenerated from scratch every time, never merged.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultName is the manifest file name inside a job directory.
const DefaultName = "job.list"

// TimestampLayout is the format of timestamps in command files and in the
// Modified column.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// Header is the manifest's CSV header.
var Header = []string{"File", "Size", "Modified"}

// Entry is one manifest row.
type Entry struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Reserved names files that never appear in a manifest.
type Reserved struct {
	CommandPrefix string // e.g. "grcmd."
	Manifest      string // e.g. "job.list"
	Runner        string // e.g. "grunter.py"
}

// Match reports whether name is reserved: dotfiles, job.* metadata, command
// files, the manifest itself and the runner script.
func (r Reserved) Match(name string) bool {
	switch {
	case name == "", strings.HasPrefix(name, "."), strings.HasPrefix(name, "job."):
		return true
	case r.CommandPrefix != "" && strings.HasPrefix(name, r.CommandPrefix):
		return true
	case name == r.Manifest, name == r.Runner:
		return true
	}
	return false
}

// List returns the regular, non-reserved files directly inside dir, sorted
// by name.
func List(dir string, reserved Reserved) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []Entry
	for _, de := range des {
		if !de.Type().IsRegular() || reserved.Match(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		out = append(out, Entry{
			Name:     de.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Encode writes entries as manifest CSV.
func Encode(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{e.Name, strconv.FormatInt(e.Size, 10), FormatTimestamp(e.Modified)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads manifest CSV produced by Encode.
func Decode(r io.Reader) ([]Entry, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("decode manifest: missing header")
	}
	var out []Entry
	for i, row := range rows[1:] {
		if len(row) != len(Header) {
			return nil, fmt.Errorf("decode manifest: row %d has %d fields", i+1, len(row))
		}
		size, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode manifest: row %d size: %w", i+1, err)
		}
		mod, ok := ParseTimestamp(row[2])
		if !ok {
			return nil, fmt.Errorf("decode manifest: row %d: bad timestamp %q", i+1, row[2])
		}
		out = append(out, Entry{Name: row[0], Size: size, Modified: mod})
	}
	return out, nil
}

// Write regenerates dir/name from the current contents of dir and returns
// the entries written.
func Write(dir, name string, reserved Reserved) ([]Entry, error) {
	if name == "" {
		name = DefaultName
	}
	entries, err := List(dir, reserved)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := Encode(f, entries); err != nil {
		f.Close()
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return entries, nil
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string. ok is false for anything
// else, including a file list whose first line happens to look similar.
func ParseTimestamp(s string) (time.Time, bool) {
	t, err := time.Parse(TimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
