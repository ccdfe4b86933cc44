package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowMs(t *testing.T) {
	// Year 2024 in milliseconds is approximately 1704067200000
	assert.Greater(t, NowMs(), int64(1704067200000))
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]string{"z": "1", "a": "2", "m": "3"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"2","m":"3","z":"1"}`, string(out))
}

func TestCanonicalJSON_Nil(t *testing.T) {
	out, err := CanonicalJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestNodeID_Deterministic(t *testing.T) {
	a, err := NodeID("Build", map[string]string{"id": "742663"})
	require.NoError(t, err)
	b, err := NodeID("Build", map[string]string{"id": "742663"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestNodeID_KindSeparatesNamespaces(t *testing.T) {
	build, err := NodeID("Build", map[string]string{"id": "1"})
	require.NoError(t, err)
	artifact, err := NodeID("Artifact", map[string]string{"id": "1"})
	require.NoError(t, err)

	assert.NotEqual(t, build, artifact)
}
