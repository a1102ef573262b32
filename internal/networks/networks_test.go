package networks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChainID(t *testing.T) {
	r := New()

	tests := []struct {
		name       string
		identifier string
		want       string
		wantErr    bool
	}{
		{name: "by_name", identifier: "ethereum", want: "0x1"},
		{name: "by_name_case_insensitive", identifier: "Polygon", want: "0x89"},
		{name: "hex_passthrough", identifier: "0x89", want: "0x89"},
		{name: "hex_normalized", identifier: "0x01", want: "0x1"},
		{name: "decimal", identifier: "137", want: "0x89"},
		{name: "empty", identifier: "", wantErr: true},
		{name: "garbage", identifier: "not-a-chain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetChainID(tt.identifier)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetChainByID(t *testing.T) {
	r := New()

	desc, err := r.GetChainByID("0x1")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", desc.Name)
	assert.NotEmpty(t, r.RPCURLInternal(desc))

	_, err = r.GetChainByID("0xdeadbeef")
	assert.Error(t, err)
}

func TestAddCustomNetwork(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(Descriptor{
		Name:    "localhost",
		ChainID: "31337",
		RPCURL:  "http://127.0.0.1:8545",
		Symbol:  "ETH",
	}))

	id, err := r.GetChainID("localhost")
	require.NoError(t, err)
	assert.Equal(t, "0x7a69", id)

	desc, err := r.GetChainByID("0x7a69")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8545", desc.RPCURL)
}

func TestNetworkID(t *testing.T) {
	id, err := NetworkID("0x89")
	require.NoError(t, err)
	assert.Equal(t, "137", id)

	id, err = NetworkID("0x1")
	require.NoError(t, err)
	assert.Equal(t, "1", id)
}

func TestListPreservesOrder(t *testing.T) {
	r := New()
	list := r.List()
	require.NotEmpty(t, list)
	assert.Equal(t, "ethereum", list[0].Name)
}
