package config

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for relay server configuration
const (
	EnvRelayPort         = "CELLFI_RELAY_PORT"
	EnvRelayRPCURL       = "CELLFI_RPC_URL"
	EnvRelayChainID      = "CELLFI_CHAIN_ID"
	EnvVonageAPIKey      = "CELLFI_VONAGE_API_KEY"
	EnvVonageAPISecret   = "CELLFI_VONAGE_API_SECRET"
	EnvSMSFrom           = "CELLFI_SMS_FROM"
	EnvRelayVerbose      = "CELLFI_VERBOSE"
	EnvWalletDataDir     = "CELLFI_DATA_DIR"
	EnvWalletStore       = "CELLFI_STORE"
	EnvWalletRedisAddr   = "CELLFI_REDIS_ADDRESS"
	EnvWalletGasPriceWei = "CELLFI_GAS_PRICE_WEI"
)

// StoreBackend selects the nonce persistence implementation.
type StoreBackend string

const (
	StoreBackendBadger StoreBackend = "badger"
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendMemory StoreBackend = "memory"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// GetConfirmTimeoutForChain returns how long the relay waits for one
// confirmation before answering the caller.
func GetConfirmTimeoutForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumMainnet:
		// ~12s blocks, leave room for slow inclusion
		return 5 * time.Minute
	case ChainId_EthereumSepolia:
		return 3 * time.Minute
	case ChainId_EthereumAnvil:
		// 2s blocks on a local devnet
		return 30 * time.Second
	default:
		return 5 * time.Minute
	}
}

// GetDefaultGasPriceWeiForChain returns the gas price used when the caller
// does not specify one. Offline signing cannot ask the network, so transfers
// carry a fixed per-chain price.
func GetDefaultGasPriceWeiForChain(chainId ChainId) string {
	switch chainId {
	case ChainId_EthereumMainnet:
		return "30000000000" // 30 gwei
	case ChainId_EthereumSepolia:
		return "2000000000" // 2 gwei
	case ChainId_EthereumAnvil:
		return "1000000000" // 1 gwei
	default:
		return "30000000000"
	}
}

// RelayServerConfig represents the complete configuration for a relay server
type RelayServerConfig struct {
	Port int `json:"port"`

	// Chain configuration
	ChainID   ChainId   `json:"chain_id"`
	ChainName ChainName `json:"chain_name"`
	RpcUrl    string    `json:"rpc_url"` // Ethereum RPC endpoint

	// SMS provider credentials
	VonageAPIKey    string `json:"vonage_api_key"`
	VonageAPISecret string `json:"vonage_api_secret"`
	SMSFrom         string `json:"sms_from"`

	// Operational settings
	ConfirmTimeout time.Duration `json:"confirm_timeout"`
	Debug          bool          `json:"debug"`
	Verbose        bool          `json:"verbose"`
}

// Validate validates the relay server configuration
func (c *RelayServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1-65535, got %d", c.Port)
	}

	if c.RpcUrl == "" {
		return fmt.Errorf("RPC URL cannot be empty")
	}

	if c.VonageAPIKey == "" {
		return fmt.Errorf("Vonage API key cannot be empty")
	}
	if c.VonageAPISecret == "" {
		return fmt.Errorf("Vonage API secret cannot be empty")
	}

	// Validate chain ID
	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		return fmt.Errorf("unsupported chain ID %d. Supported: %d (mainnet), %d (sepolia), %d (anvil)",
			c.ChainID, ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
	}
	c.ChainName = chainName

	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = GetConfirmTimeoutForChain(c.ChainID)
	}

	return nil
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}

// WalletConfig configures the signing-side CLI: where nonce state lives and
// how transfers are priced.
type WalletConfig struct {
	ChainID     ChainId      `json:"chain_id"`
	DataDir     string       `json:"data_dir"`
	Store       StoreBackend `json:"store"`
	RedisAddr   string       `json:"redis_address,omitempty"`
	RpcUrl      string       `json:"rpc_url,omitempty"` // empty means offline only
	GasPriceWei string       `json:"gas_price_wei"`
	Debug       bool         `json:"debug"`
}

func (wc *WalletConfig) Validate() error {
	var allErrors field.ErrorList
	if _, exists := ChainIdToName[wc.ChainID]; !exists {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("chainId"), wc.ChainID, []string{
			fmt.Sprintf("%d", ChainId_EthereumMainnet),
			fmt.Sprintf("%d", ChainId_EthereumSepolia),
			fmt.Sprintf("%d", ChainId_EthereumAnvil),
		}))
	}
	switch wc.Store {
	case StoreBackendMemory:
	case StoreBackendBadger:
		if wc.DataDir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataDir"), "dataDir is required for the badger store"))
		}
	case StoreBackendRedis:
		if wc.RedisAddr == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for the redis store"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("store"), wc.Store, []string{
			string(StoreBackendBadger), string(StoreBackendRedis), string(StoreBackendMemory),
		}))
	}
	if wc.GasPriceWei == "" {
		wc.GasPriceWei = GetDefaultGasPriceWeiForChain(wc.ChainID)
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
