// Command drivectl drives a ledgerd instance: minting and verifying service
// records, moving points, managing multipliers and verifiers, and exporting
// the change feed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"drivechain/core/authority"
	"drivechain/core/retry"
	"drivechain/crypto"
	"drivechain/internal/passphrase"
	"drivechain/observability/logging"
	"drivechain/sdk/ledgerclient"
)

const (
	programName     = "drivectl"
	defaultEndpoint = "http://127.0.0.1:8080"
	endpointEnv     = "DRIVECHAIN_ENDPOINT"
	tokenEnv        = "DRIVECHAIN_TOKEN"
	keyPassEnv      = "DRIVECHAIN_KEY_PASS"
)

type globalFlags struct {
	endpoint       string
	caller         string
	token          string
	keystore       string
	retries        int
	timeout        time.Duration
	idempotencyKey string
	debug          bool
}

// cli carries the resolved flags and the logger into subcommands.
type cli struct {
	flags  globalFlags
	logger *slog.Logger
	pass   *passphrase.Source
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{pass: passphrase.NewSource(keyPassEnv, passphrase.WithLabel("signing key"))}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operate a drivechain ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if c.flags.debug {
				level = "debug"
			}
			c.logger, _ = logging.Setup(programName, "cli",
				logging.WithLevel(level), logging.WithOutput(cmd.ErrOrStderr()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.endpoint, "endpoint", envOr(endpointEnv, defaultEndpoint), "ledgerd base URL")
	pf.StringVar(&c.flags.caller, "caller", "", "caller address sent as the development identity header")
	pf.StringVar(&c.flags.token, "token", os.Getenv(tokenEnv), "bearer token for authenticated requests")
	pf.StringVar(&c.flags.keystore, "keystore", "", "keystore used to log in before the command runs")
	pf.IntVar(&c.flags.retries, "retries", 3, "attempts for requests that fail with a transport error")
	pf.DurationVar(&c.flags.timeout, "timeout", 30*time.Second, "per-command deadline")
	pf.StringVar(&c.flags.idempotencyKey, "idempotency-key", "", "reuse a key to confirm a previously submitted mutation")
	pf.BoolVarP(&c.flags.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(
		c.mintCommand(),
		c.recordCommand(),
		c.pointsCommand(),
		c.multiplierCommand(),
		c.verifierCommand(),
		c.eventsCommand(),
		c.keysCommand(),
		c.loginCommand(),
		c.tokenCommand(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// client builds the HTTP client, logging in with the keystore when one is
// configured.
func (c *cli) client(ctx context.Context) (*ledgerclient.Client, error) {
	opts := []ledgerclient.Option{ledgerclient.WithAuthToken(c.flags.token)}
	if c.flags.caller != "" {
		addr, err := crypto.ParseAddress(c.flags.caller)
		if err != nil {
			return nil, fmt.Errorf("--caller: %w", err)
		}
		opts = append(opts, ledgerclient.WithCaller(addr))
	}
	client, err := ledgerclient.New(c.flags.endpoint, opts...)
	if err != nil {
		return nil, err
	}
	if c.flags.keystore != "" && c.flags.token == "" {
		key, err := c.loadKey(c.flags.keystore)
		if err != nil {
			return nil, err
		}
		if _, err := client.Login(ctx, key); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return client, nil
}

// authority wraps the client so transport failures are retried with a shared
// idempotency key.
func (c *cli) authority(ctx context.Context) (authority.Authority, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	attempts := c.flags.retries
	if attempts < 1 {
		attempts = 1
	}
	return authority.NewRetrying(client, retry.Policy{
		MaxAttempts: attempts,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}, c.logger), nil
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	pass, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

// context applies the command deadline and the idempotency key flag.
func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if c.flags.idempotencyKey != "" {
		ctx = authority.WithIdempotencyKey(ctx, c.flags.idempotencyKey)
	}
	if c.flags.timeout > 0 {
		return context.WithTimeout(ctx, c.flags.timeout)
	}
	return context.WithCancel(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
