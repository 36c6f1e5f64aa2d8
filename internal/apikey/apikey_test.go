package apikey_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/codeagent/internal/apikey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	k, err := apikey.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k.Raw, "cg_"))
	assert.Len(t, k.Prefix, apikey.PrefixLen)
	assert.Equal(t, k.Raw[:apikey.PrefixLen], k.Prefix)
	assert.NotContains(t, k.Hash, k.Raw)
	assert.True(t, apikey.Matches(k.Hash, k.Raw))
	assert.False(t, apikey.Matches(k.Hash, k.Raw+"x"))
}

func TestGenerate_Unique(t *testing.T) {
	a, err := apikey.Generate()
	require.NoError(t, err)
	b, err := apikey.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.Raw, b.Raw)
}

func TestFromRaw_TooShort(t *testing.T) {
	_, err := apikey.FromRaw("short")
	assert.ErrorIs(t, err, apikey.ErrMalformed)
}
