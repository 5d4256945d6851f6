package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCheckpointEmptyYieldsNil(t *testing.T) {
	assert.Nil(t, marshalCheckpoint(nil))
	assert.Nil(t, marshalCheckpoint(map[string]any{}))
}

func TestMarshalCheckpointRoundTrips(t *testing.T) {
	cp := map[string]any{"last_cursor": "abc", "current_page_node": float64(3)}
	data := marshalCheckpoint(cp)
	require.NotNil(t, data)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cp, got)
}
