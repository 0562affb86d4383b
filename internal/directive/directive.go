// Package directive turns changed file paths into typed command directives.
//
// A command file is any file whose name starts with the command prefix
// (grcmd. by default) inside a job directory:
//
//	active/p1/grcmd.update  ->  {Verb: update, JobID: p1, JobDir: active/p1}
//
// Directives are never stored; they are re-derived from the log whenever a
// revision is scanned.
package directive

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/grund/internal/vlog"
)

// DefaultPrefix is the command file prefix.
const DefaultPrefix = "grcmd."

// Verb is the closed set of commands the engine understands. Anything else
// is VerbRunner and is handed to the job runner by name.
type Verb int

const (
	VerbRunner Verb = iota
	VerbUpdate
	VerbArchive
	VerbDelete
	VerbNuke
	VerbNewProject
)

var verbNames = map[Verb]string{
	VerbUpdate:     "update",
	VerbArchive:    "archive",
	VerbDelete:     "delete",
	VerbNuke:       "nuke",
	VerbNewProject: "newproj-server",
}

// ParseVerb maps a command name to its Verb.
func ParseVerb(name string) Verb {
	for v, n := range verbNames {
		if n == name {
			return v
		}
	}
	return VerbRunner
}

func (v Verb) String() string {
	if n, ok := verbNames[v]; ok {
		return n
	}
	return "runner"
}

// Lifecycle reports whether the verb moves or removes the job directory.
func (v Verb) Lifecycle() bool {
	return v == VerbArchive || v == VerbDelete || v == VerbNuke
}

// Root namespaces a job directory can live under.
const (
	RootActive  = "active"
	RootArchive = "archive"
	RootDelete  = "delete"
)

// Directive is one parsed command.
type Directive struct {
	Verb Verb
	// Name is the command as written after the prefix. For VerbRunner it
	// is the argument passed to the job runner.
	Name        string
	JobID       string
	JobDir      string
	CommandFile string
	// Revision is the log revision the command file was found in.
	Revision string
}

// Path returns the command file path relative to the log root.
func (d Directive) Path() string {
	return path.Join(d.JobDir, d.CommandFile)
}

// Split returns the root namespace of the job directory and the remainder
// below it: "active/p1" -> ("active", "p1"). ok is false when the job
// directory has no remainder or its root is not a known namespace.
func (d Directive) Split() (root, rest string, ok bool) {
	root, rest, found := strings.Cut(d.JobDir, "/")
	if !found || rest == "" {
		return "", "", false
	}
	switch root {
	case RootActive, RootArchive, RootDelete:
		return root, rest, true
	}
	return "", "", false
}

// Parse derives a directive from a changed path. ok is false when the file
// name does not carry the prefix, which is not an error.
func Parse(p, prefix string) (Directive, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p = norm.NFC.String(strings.TrimRight(p, "\r\n"))
	if p == "" {
		return Directive{}, false
	}
	p = path.Clean(p)
	dir, file := path.Split(p)
	if !strings.HasPrefix(file, prefix) {
		return Directive{}, false
	}
	name := file[len(prefix):]
	if name == "" {
		return Directive{}, false
	}
	dir = strings.TrimSuffix(dir, "/")
	jobID := ""
	if dir != "" {
		jobID = path.Base(dir)
	}
	return Directive{
		Verb:        ParseVerb(name),
		Name:        name,
		JobID:       jobID,
		JobDir:      dir,
		CommandFile: file,
	}, true
}

// Scan returns the directives found in one revision, in path order.
func Scan(rev vlog.Revision, prefix string) []Directive {
	var out []Directive
	for _, p := range rev.Paths {
		d, ok := Parse(p, prefix)
		if !ok {
			continue
		}
		d.Revision = rev.ID
		out = append(out, d)
	}
	return out
}
