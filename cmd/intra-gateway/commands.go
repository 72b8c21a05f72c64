// ABOUTME: Operator subcommands: health probe, catalog listing, audit log, token minting, version
// ABOUTME: None of them start a gateway; tools needs no credentials at all

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/intra-gateway/internal/auth"
	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/config"
	"github.com/2389/intra-gateway/internal/store"
	"github.com/2389/intra-gateway/internal/tools"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intra-gateway %s\n", version)
		},
	}
}

func defaultHealthAddr() string {
	port := os.Getenv(config.EnvPort)
	if port == "" {
		port = config.DefaultPort
	}
	return "localhost:" + port
}

func newHealthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health endpoint of a running HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), cmd.OutOrStdout(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultHealthAddr(), "gateway host:port")
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func newToolsCmd() *cobra.Command {
	var withSchema bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools and resources this gateway exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTools(cmd.OutOrStdout(), withSchema)
		},
	}
	cmd.Flags().BoolVar(&withSchema, "schema", false, "print each tool's input schema")
	return cmd
}

func runTools(out io.Writer, withSchema bool) error {
	cat := catalog.New()
	// Handlers never run here, so no API client is needed.
	if err := tools.Register(cat, nil); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintln(out, "Tools")
	for _, t := range cat.ListTools() {
		fmt.Fprintf(out, "  %s\n", t.Name)
		gray.Fprintf(out, "    %s\n", t.Description)
		if withSchema {
			b, err := json.MarshalIndent(t.InputSchema(), "    ", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "    %s\n", b)
		}
	}

	fmt.Fprintln(out)
	cyan.Fprintln(out, "Resources")
	for _, r := range cat.ListResources() {
		fmt.Fprintf(out, "  %s\n", r.URI)
	}
	for _, r := range cat.ListTemplates() {
		fmt.Fprintf(out, "  %s\n", r.URITemplate)
	}
	return nil
}

type auditOptions struct {
	dbPath  string
	tool    string
	outcome string
	since   time.Duration
	limit   int
	summary bool
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent tool calls from the audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveDBPath(opts.dbPath, root.configPath)
			if err != nil {
				return err
			}
			return runAudit(cmd.Context(), cmd.OutOrStdout(), path, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "audit database path (defaults to $INTRA_DB_PATH, then database.path)")
	cmd.Flags().StringVar(&opts.tool, "tool", "", "only calls to this tool")
	cmd.Flags().StringVar(&opts.outcome, "outcome", "", "only calls with this outcome (ok, invalid_params, error)")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only calls newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print per-tool totals instead of individual calls")
	return cmd
}

func resolveDBPath(flagPath, configFlag string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if envPath := os.Getenv(config.EnvDBPath); envPath != "" {
		return envPath, nil
	}
	cfg, _, err := loadConfig(configFlag)
	if err != nil {
		return "", err
	}
	if cfg.Database.Path == "" {
		return "", errors.New("no audit database configured (set --db, INTRA_DB_PATH or database.path)")
	}
	return cfg.Database.Path, nil
}

func runAudit(ctx context.Context, out io.Writer, dbPath string, opts auditOptions) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}

	s, err := store.NewSQLiteStore(dbPath, setupLogger(config.LoggingConfig{Level: "error"}, io.Discard))
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	defer s.Close()

	var since time.Time
	if opts.since > 0 {
		since = time.Now().Add(-opts.since)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if opts.summary {
		summaries, err := s.SummarizeCalls(ctx, since)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "  TOOL\tCALLS\tFAILURES\tAVG")
		fmt.Fprintln(w, "  ----\t-----\t--------\t---")
		for _, sum := range summaries {
			fmt.Fprintf(w, "  %s\t%d\t%d\t%s\n", sum.Tool, sum.Calls, sum.Failures, sum.AvgDuration)
		}
		return nil
	}

	filter := store.CallFilter{Limit: opts.limit}
	if opts.tool != "" {
		filter.Tool = &opts.tool
	}
	if opts.outcome != "" {
		o := store.Outcome(opts.outcome)
		filter.Outcome = &o
	}
	if !since.IsZero() {
		filter.Since = &since
	}

	calls, err := s.ListCalls(ctx, filter)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "  TIME\tTOOL\tTRANSPORT\tOUTCOME\tDURATION\tCALL ID")
	fmt.Fprintln(w, "  ----\t----\t---------\t-------\t--------\t-------")
	for _, c := range calls {
		outcome := string(c.Outcome)
		if c.Outcome != store.OutcomeOK {
			outcome = color.RedString(outcome)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			c.CreatedAt.Local().Format("Jan 02 15:04:05"),
			c.Tool,
			c.Transport,
			outcome,
			c.Duration,
			c.ID,
		)
	}
	return nil
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth.JWTSecret, subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (who the token is for)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runToken(out io.Writer, secret, subject string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
