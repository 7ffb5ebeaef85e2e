package metastore

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func TestParsePeersSplitsNodeIDFromAddress(t *testing.T) {
	servers, err := parsePeers([]string{"node-1@127.0.0.1:7070", "node-2@127.0.0.1:7071"})
	require.NoError(t, err)
	require.Equal(t, []raft.Server{
		{ID: "node-1", Address: "127.0.0.1:7070"},
		{ID: "node-2", Address: "127.0.0.1:7071"},
	}, servers)
}

func TestParsePeersRejectsAPeerWithoutAnAtSign(t *testing.T) {
	_, err := parsePeers([]string{"node-1-127.0.0.1:7070"})
	require.Error(t, err)
}

func TestParsePeersOnEmptyListReturnsEmpty(t *testing.T) {
	servers, err := parsePeers(nil)
	require.NoError(t, err)
	require.Empty(t, servers)
}
