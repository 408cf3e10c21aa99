package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestStoreLoadDelete(t *testing.T) {
	keyring.MockInit()
	v := New()

	ref, err := v.Store("proj-1", "dev-1", Material{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "netval:proj-1:dev-1:"))

	m, err := v.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, "admin", m.Username)
	assert.Equal(t, "secret", m.Password)

	require.NoError(t, v.Delete(ref))
	_, err = v.Load(ref)
	assert.Error(t, err)
}

func TestStoreRequiresUsername(t *testing.T) {
	keyring.MockInit()
	v := New()
	_, err := v.Store("p", "d", Material{Password: "x"})
	assert.Error(t, err)
}

func TestRefsAreUnique(t *testing.T) {
	keyring.MockInit()
	v := New()
	r1, err := v.Store("p", "d", Material{Username: "a"})
	require.NoError(t, err)
	r2, err := v.Store("p", "d", Material{Username: "a"})
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)
}

func TestDeleteToleratesMissingEntry(t *testing.T) {
	keyring.MockInit()
	v := New()
	assert.NoError(t, v.Delete("netval:p:d:never-stored"))
}
