package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompositeKey(t *testing.T) {
	key, err := ParseCompositeKey("2025-10-03|field_1")
	require.NoError(t, err)
	assert.Equal(t, CompositeKey{Date: "2025-10-03", FieldID: "field_1"}, key)
	assert.Equal(t, "2025-10-03|field_1", key.String())

	for _, bad := range []string{"", "2025-10-03", "|field_1", "2025-10-03|", "not-a-date|field_1"} {
		_, err := ParseCompositeKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestItemIdentityID(t *testing.T) {
	id := ItemIdentity{FieldID: "field_7", Date: "2025-10-03", Kind: IndexNDVI}
	assert.Equal(t, "field_7-ndvi-2025-10-03", id.ID())
}
