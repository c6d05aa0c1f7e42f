package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  map[string]int `json:"tags"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{Name: "node", Count: 3, Tags: map[string]int{"b": 2, "a": 1}}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"node","count":3,"tags":{"a":1,"b":2}}`, string(data))

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestEncoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]int{"x": 1}))
	var out map[string]int
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, 1, out["x"])
}
