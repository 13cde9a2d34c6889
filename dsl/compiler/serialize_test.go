package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerialize_RoundTrip_PreservesNodeOrderAndHash(t *testing.T) {
	c := New(newCatalog(t))
	c.now = func() time.Time { return time.Unix(0, 0) }
	ir, report := c.Compile(crossoverPipeline())
	require.False(t, report.HasErrors())

	data, err := Serialize(ir)
	require.NoError(t, err)

	roundTripped, err := Deserialize(data)
	require.NoError(t, err)

	require.Equal(t, ir.Metadata.ContentHash, roundTripped.Metadata.ContentHash)
	require.Equal(t, len(ir.Nodes), len(roundTripped.Nodes))
	for i, n := range ir.Nodes {
		require.Equal(t, n.ID, roundTripped.Nodes[i].ID)
		require.Equal(t, n.DependsOn, roundTripped.Nodes[i].DependsOn)
	}
	require.Equal(t, ir.FinalOutputs(), roundTripped.FinalOutputs())
}

func TestDeserialize_MalformedJSON_Errors(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
}
