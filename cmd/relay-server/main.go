package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cellfi-labs/cellfi-go/pkg/chain"
	"github.com/cellfi-labs/cellfi-go/pkg/config"
	"github.com/cellfi-labs/cellfi-go/pkg/logger"
	"github.com/cellfi-labs/cellfi-go/pkg/relay"
	"github.com/cellfi-labs/cellfi-go/pkg/sms"
)

func main() {
	app := &cli.App{
		Name:  "relay-server",
		Usage: "CellFi SMS transaction relay",
		Description: `Accepts signed transaction envelopes forwarded from the SMS channel,
broadcasts them to the configured Ethereum network, waits for one
confirmation, and notifies both parties by SMS.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvRelayPort},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				Value:   uint64(config.ChainId_EthereumSepolia),
				EnvVars: []string{config.EnvRelayChainID},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvRelayRPCURL},
			},
			&cli.StringFlag{
				Name:     "vonage-api-key",
				Usage:    "Vonage SMS API key",
				EnvVars:  []string{config.EnvVonageAPIKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "vonage-api-secret",
				Usage:    "Vonage SMS API secret",
				EnvVars:  []string{config.EnvVonageAPISecret},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "sms-from",
				Usage:   "Sender ID stamped on outbound SMS",
				Value:   sms.DefaultFrom,
				EnvVars: []string{config.EnvSMSFrom},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvRelayVerbose},
			},
		},
		Action: runRelayServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runRelayServer(c *cli.Context) error {
	// Create logger
	loggerConfig := &logger.LoggerConfig{
		Debug: c.Bool("verbose"),
	}
	l, err := logger.NewLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	relayConfig := &config.RelayServerConfig{
		Port:            c.Int("port"),
		ChainID:         config.ChainId(c.Uint64("chain-id")),
		RpcUrl:          c.String("rpc-url"),
		VonageAPIKey:    c.String("vonage-api-key"),
		VonageAPISecret: c.String("vonage-api-secret"),
		SMSFrom:         c.String("sms-from"),
		Verbose:         c.Bool("verbose"),
	}
	if err := relayConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.Sugar().Infow("Using chain", "name", relayConfig.ChainName, "chain_id", relayConfig.ChainID)

	provider, err := chain.NewEthProvider(relayConfig.RpcUrl, l)
	if err != nil {
		return fmt.Errorf("failed to create chain provider: %w", err)
	}

	dispatcher, err := sms.NewVonageClient(&sms.VonageConfig{
		APIKey:    relayConfig.VonageAPIKey,
		APISecret: relayConfig.VonageAPISecret,
		From:      relayConfig.SMSFrom,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create SMS dispatcher: %w", err)
	}

	gateway, err := relay.NewGateway(provider, dispatcher, &relay.GatewayConfig{
		ConfirmTimeout: relayConfig.ConfirmTimeout,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create relay gateway: %w", err)
	}

	server := relay.NewServer(gateway, func() error {
		return provider.HealthCheck(c.Context)
	}, relayConfig.Port, l)

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	l.Sugar().Infow("Shutting down", "signal", sig.String())
	return server.Stop()
}
