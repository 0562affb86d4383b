package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProject(t *testing.T) {
	p := NewProject(t)

	assert.True(t, Exists(p.Jobs.Dir()))
	assert.True(t, Exists(p.Results.Dir()))
	assert.Equal(t, "jobs", p.Jobs.Name())
	assert.Equal(t, "results", p.Results.Name())

	p.Jobs.External("add", map[string]string{"active/p1/a.txt": "hi"})
	assert.Equal(t, "hi", ReadFile(t, p.JobsPath("active/p1/a.txt")))
	assert.False(t, Exists(p.ResultsPath("active/p1")))
}
