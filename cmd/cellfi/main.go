package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/chain"
	"github.com/cellfi-labs/cellfi-go/pkg/config"
	"github.com/cellfi-labs/cellfi-go/pkg/logger"
	"github.com/cellfi-labs/cellfi-go/pkg/nonce"
	"github.com/cellfi-labs/cellfi-go/pkg/persistence"
	badgerstore "github.com/cellfi-labs/cellfi-go/pkg/persistence/badger"
	"github.com/cellfi-labs/cellfi-go/pkg/persistence/memory"
	redisstore "github.com/cellfi-labs/cellfi-go/pkg/persistence/redis"
	"github.com/cellfi-labs/cellfi-go/pkg/session"
)

const envPrivateKey = "CELLFI_PRIVATE_KEY"

func main() {
	app := &cli.App{
		Name:  "cellfi",
		Usage: "CellFi offline transaction signer",
		Description: `Signs native-asset transfers against a locally cached nonce ledger so
transactions can be composed without network connectivity and relayed
later over SMS.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				Value:   uint64(config.ChainId_EthereumSepolia),
				EnvVars: []string{config.EnvRelayChainID},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory for the local nonce ledger",
				Value:   defaultDataDir(),
				EnvVars: []string{config.EnvWalletDataDir},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Nonce store backend: badger, redis, or memory",
				Value:   string(config.StoreBackendBadger),
				EnvVars: []string{config.EnvWalletStore},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port) for the redis store",
				EnvVars: []string{config.EnvWalletRedisAddr},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL (omit to stay offline)",
				EnvVars: []string{config.EnvRelayRPCURL},
			},
			&cli.StringFlag{
				Name:    "gas-price-wei",
				Usage:   "Gas price in wei for signed transfers (default: per-chain)",
				EnvVars: []string{config.EnvWalletGasPriceWei},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvRelayVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sign",
				Usage: "Sign a transfer and print the SMS envelope",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Hex private key (prefer the environment variable)",
						EnvVars:  []string{envPrivateKey},
						Required: true,
					},
					&cli.StringFlag{Name: "to", Usage: "Recipient address", Required: true},
					&cli.StringFlag{Name: "amount-wei", Usage: "Transfer amount in wei", Required: true},
					&cli.StringFlag{Name: "sender-mobile", Usage: "Sender mobile number", Required: true},
					&cli.StringFlag{Name: "receiver-mobile", Usage: "Receiver mobile number", Required: true},
				},
				Action: runSign,
			},
			{
				Name:  "sync",
				Usage: "Reconcile the cached nonce with the network",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address to sync",
						Required: true,
					},
				},
				Action: runSync,
			},
			{
				Name:   "list",
				Usage:  "List tracked accounts and their cached nonces",
				Action: runList,
			},
			{
				Name:  "forget",
				Usage: "Stop tracking an account and delete its nonce state",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address to forget",
						Required: true,
					},
				},
				Action: runForget,
			},
			{
				Name:  "send",
				Usage: "Submit a signed envelope to a relay server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "relay-url",
						Usage:    "Relay server base URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "Envelope file (default: stdin)",
					},
				},
				Action: runSend,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func defaultDataDir() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return filepath.Join(u.HomeDir, ".cellfi")
	}
	return ".cellfi"
}

func newLoggerFromFlags(c *cli.Context) (*zap.Logger, error) {
	return logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
}

func walletConfigFromFlags(c *cli.Context) (*config.WalletConfig, error) {
	cfg := &config.WalletConfig{
		ChainID:     config.ChainId(c.Uint64("chain-id")),
		DataDir:     c.String("data-dir"),
		Store:       config.StoreBackend(c.String("store")),
		RedisAddr:   c.String("redis-address"),
		RpcUrl:      c.String("rpc-url"),
		GasPriceWei: c.String("gas-price-wei"),
		Debug:       c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.WalletConfig, l *zap.Logger) (persistence.INonceStore, error) {
	switch cfg.Store {
	case config.StoreBackendBadger:
		return badgerstore.NewBadgerStore(filepath.Join(cfg.DataDir, "nonces"), l)
	case config.StoreBackendRedis:
		return redisstore.NewRedisStore(&redisstore.RedisConfig{Address: cfg.RedisAddr}, l)
	case config.StoreBackendMemory:
		return memory.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store)
	}
}

// newProviderFromFlags connects to the RPC endpoint when one is configured.
// A nil provider means the wallet runs fully offline.
func newProviderFromFlags(cfg *config.WalletConfig, l *zap.Logger) (*chain.EthProvider, error) {
	if cfg.RpcUrl == "" {
		return nil, nil
	}
	return chain.NewEthProvider(cfg.RpcUrl, l)
}

func reachabilityProbe(provider *chain.EthProvider) nonce.Reachability {
	return func() bool {
		if provider == nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return provider.HealthCheck(ctx) == nil
	}
}

func runSign(c *cli.Context) error {
	l, err := newLoggerFromFlags(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := walletConfigFromFlags(c)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open nonce store: %w", err)
	}
	defer func() { _ = store.Close() }()

	provider, err := newProviderFromFlags(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create chain provider: %w", err)
	}

	var source nonce.NonceSource
	if provider != nil {
		source = provider
	}
	ledger := nonce.NewLedger(store, source, l)

	sess, err := session.NewSession(ledger, reachabilityProbe(provider), session.SessionConfig{
		ChainID: uint64(cfg.ChainID),
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Detach()

	if _, err := sess.SetKey(c.Context, c.String("key")); err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}

	result, err := sess.SignTransfer(c.Context, session.TransferRequest{
		To:             c.String("to"),
		AmountWei:      c.String("amount-wei"),
		GasPriceWei:    cfg.GasPriceWei,
		SenderMobile:   c.String("sender-mobile"),
		ReceiverMobile: c.String("receiver-mobile"),
	})
	if err != nil {
		return fmt.Errorf("failed to sign transfer: %w", err)
	}

	mode := "online"
	if result.Offline {
		mode = "offline"
	}
	l.Sugar().Infow("Transfer signed", "nonce", result.Nonce, "mode", mode)
	fmt.Println(result.EncodedText)
	return nil
}

func runSync(c *cli.Context) error {
	l, err := newLoggerFromFlags(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := walletConfigFromFlags(c)
	if err != nil {
		return err
	}
	if cfg.RpcUrl == "" {
		return fmt.Errorf("sync requires --rpc-url")
	}

	address, err := parseAddress(c.String("address"))
	if err != nil {
		return err
	}

	store, err := openStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open nonce store: %w", err)
	}
	defer func() { _ = store.Close() }()

	provider, err := newProviderFromFlags(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create chain provider: %w", err)
	}

	ledger := nonce.NewLedger(store, provider, l)
	if err := ledger.Track(address); err != nil {
		return fmt.Errorf("failed to track address: %w", err)
	}

	record, err := ledger.Sync(c.Context, address, true)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("%s next nonce %d (%s)\n", record.Address.Hex(), record.CachedNonce, record.SyncState)
	return nil
}

func runList(c *cli.Context) error {
	l, err := newLoggerFromFlags(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := walletConfigFromFlags(c)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open nonce store: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListNonceRecords()
	if err != nil {
		return fmt.Errorf("failed to list nonce records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no tracked accounts")
		return nil
	}
	for _, record := range records {
		synced := "never synced"
		if record.LastSyncedAt > 0 {
			synced = time.Unix(record.LastSyncedAt, 0).Format(time.RFC3339)
		}
		fmt.Printf("%s next nonce %d (%s, %s)\n", record.Address.Hex(), record.CachedNonce, record.SyncState, synced)
	}
	return nil
}

func runForget(c *cli.Context) error {
	l, err := newLoggerFromFlags(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := walletConfigFromFlags(c)
	if err != nil {
		return err
	}

	address, err := parseAddress(c.String("address"))
	if err != nil {
		return err
	}

	store, err := openStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open nonce store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.DeleteNonceRecord(address); err != nil {
		return fmt.Errorf("failed to delete nonce record: %w", err)
	}
	fmt.Printf("forgot %s\n", address.Hex())
	return nil
}

func runSend(c *cli.Context) error {
	text, err := readEnvelopeText(c.String("file"))
	if err != nil {
		return err
	}

	relayURL := strings.TrimRight(c.String("relay-url"), "/")
	req, err := http.NewRequestWithContext(c.Context, http.MethodPost, relayURL+"/", strings.NewReader(text))
	if err != nil {
		return fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read relay response: %w", err)
	}

	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay answered %d", resp.StatusCode)
	}
	return nil
}

func readEnvelopeText(path string) (string, error) {
	var raw []byte
	var err error
	if path == "" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read envelope: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("envelope is empty")
	}
	return text, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return common.HexToAddress(s), nil
}
