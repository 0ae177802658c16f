package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRelayConfig() *RelayServerConfig {
	return &RelayServerConfig{
		Port:            3000,
		ChainID:         ChainId_EthereumSepolia,
		RpcUrl:          "https://sepolia.example.org",
		VonageAPIKey:    "key",
		VonageAPISecret: "secret",
	}
}

func TestRelayServerConfig_Validate(t *testing.T) {
	cfg := validRelayConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ChainName_EthereumSepolia, cfg.ChainName)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmTimeout, "per-chain default is filled in")
}

func TestRelayServerConfig_ValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RelayServerConfig)
	}{
		{"bad port", func(c *RelayServerConfig) { c.Port = 0 }},
		{"missing rpc url", func(c *RelayServerConfig) { c.RpcUrl = "" }},
		{"missing api key", func(c *RelayServerConfig) { c.VonageAPIKey = "" }},
		{"missing api secret", func(c *RelayServerConfig) { c.VonageAPISecret = "" }},
		{"unknown chain", func(c *RelayServerConfig) { c.ChainID = 42 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRelayConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWalletConfig_Validate(t *testing.T) {
	cfg := &WalletConfig{
		ChainID: ChainId_EthereumSepolia,
		Store:   StoreBackendBadger,
		DataDir: "/tmp/cellfi",
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, GetDefaultGasPriceWeiForChain(ChainId_EthereumSepolia), cfg.GasPriceWei)
}

func TestWalletConfig_ValidateFailures(t *testing.T) {
	badgerNoDir := &WalletConfig{ChainID: ChainId_EthereumSepolia, Store: StoreBackendBadger}
	assert.Error(t, badgerNoDir.Validate())

	redisNoAddr := &WalletConfig{ChainID: ChainId_EthereumSepolia, Store: StoreBackendRedis}
	assert.Error(t, redisNoAddr.Validate())

	badStore := &WalletConfig{ChainID: ChainId_EthereumSepolia, Store: "sqlite"}
	assert.Error(t, badStore.Validate())

	badChain := &WalletConfig{ChainID: 7, Store: StoreBackendMemory}
	assert.Error(t, badChain.Validate())
}

func TestChainNameMaps(t *testing.T) {
	for id, name := range ChainIdToName {
		assert.Equal(t, id, ChainNameToId[name])
	}
}
