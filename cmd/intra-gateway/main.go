// ABOUTME: Entry point for intra-gateway, the MCP server for the school intranet API
// ABOUTME: Serves stdio or HTTP and hosts the health, tools, audit, token and version commands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/intra-gateway/internal/config"
	"github.com/2389/intra-gateway/internal/gateway"
)

// version is overridden at build time with
// -ldflags "-X main.version=<tag>".
var version = "dev"

const banner = `
 _       _                                _
(_)_ __ | |_ _ __ __ _        __ _  __ _| |_ _____      ____ _ _   _
| | '_ \| __| '__/ _' |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | |_| | | (_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|_| |_|\__|_|  \__,_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                             |___/                             |___/
`

type rootOptions struct {
	configPath string
	transport  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, config.ErrMissingCredentials) {
			fmt.Fprintln(os.Stderr, "Set INTRA_CLIENT_ID and INTRA_CLIENT_SECRET, or pass --config.")
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "intra-gateway",
		Short: "MCP server exposing the school intranet REST API as read-only tools",
		Long: "intra-gateway translates MCP JSON-RPC requests into authenticated GET calls " +
			"against the school intranet API, over stdio (default) or HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (.yaml or .toml); defaults to $INTRA_GATEWAY_CONFIG")
	root.Flags().StringVar(&opts.transport, "transport", string(gateway.TransportStdio), "transport to serve: stdio or http")

	root.AddCommand(
		newHealthCmd(),
		newToolsCmd(),
		newAuditCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the config file to load, or "" to configure from the
// environment alone.
// Priority: --config > INTRA_GATEWAY_CONFIG > XDG_CONFIG_HOME/intra-gateway/gateway.yaml (if present)
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(config.EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "intra-gateway", "gateway.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func loadConfig(flagPath string) (*config.Config, string, error) {
	path := getConfigPath(flagPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	transport, err := gateway.ParseTransport(opts.transport)
	if err != nil {
		return err
	}

	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	// stdout carries protocol frames in stdio mode.
	if transport == gateway.TransportHTTP {
		printBanner(cfg, configPath)
	}

	logger.Info("starting intra-gateway",
		"version", version,
		"transport", transport,
		"config", configPath,
		"api", cfg.API.BaseURL,
	)

	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx, transport, os.Stdin, os.Stdout)
}

func printBanner(cfg *config.Config, configPath string) {
	out := os.Stderr
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(environment)"
	}
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "API:       %s\n", cfg.API.BaseURL)

	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Tailscale: ")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(out, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	} else {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Fprintln(out, "    ! bearer auth disabled (auth.jwt_secret not set)")
	}
	fmt.Fprintln(out)
}
