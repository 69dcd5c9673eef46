package tlswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	*RefCount
	name string
}

func newStubPlugin(name string) *stubPlugin {
	return &stubPlugin{RefCount: NewRefCount(nil), name: name}
}

func (p *stubPlugin) TypeNameAndVersion() string   { return p.name + "/0" }
func (p *stubPlugin) CreatePolicy(LogFunc) Policy { return nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	Register("stub-a", newStubPlugin("stub-a"))
	Register("stub-b", newStubPlugin("stub-b"))

	p, err := Lookup("stub-a")
	require.NoError(t, err)
	assert.Equal(t, "stub-a/0", p.TypeNameAndVersion())

	names := Backends()
	assert.Contains(t, names, "stub-a")
	assert.Contains(t, names, "stub-b")
	assert.IsIncreasing(t, names)
}

func TestRegistry_UnknownBackend(t *testing.T) {
	_, err := Lookup("no-such-backend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-backend")
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	Register("stub-dup", newStubPlugin("stub-dup"))
	assert.Panics(t, func() { Register("stub-dup", newStubPlugin("stub-dup")) })
}

func TestRegistry_NilPluginPanics(t *testing.T) {
	assert.Panics(t, func() { Register("stub-nil", nil) })
}
