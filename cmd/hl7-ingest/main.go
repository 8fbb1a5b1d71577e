package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/hl7ingest/internal/config"
	"github.com/ehr/hl7ingest/internal/ingest"
	"github.com/ehr/hl7ingest/internal/labreport"
	"github.com/ehr/hl7ingest/internal/platform/auth"
	"github.com/ehr/hl7ingest/internal/platform/envelope"
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hl7-ingest",
		Short:         "HL7 v2 lab report parser and ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, MLLP listener and inbox poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

// parseFlags are shared by parse and extract.
type parseFlags struct {
	dialect string
	inline  bool
	pretty  bool
}

func (f *parseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dialect, "dialect", "auto", "field layout: auto, generic or emr")
	cmd.Flags().BoolVar(&f.inline, "inline", false, "keep encapsulated document content")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "indent JSON output")
}

func (f *parseFlags) options() ([]labreport.Option, error) {
	d, ok := labreport.ParseDialect(f.dialect)
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", f.dialect)
	}
	return []labreport.Option{labreport.WithDialect(d), labreport.WithInlineDocuments(f.inline)}, nil
}

func parseCmd() *cobra.Command {
	var flags parseFlags
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse one HL7 message (file or stdin) and print the report as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			report, err := labreport.ParseBytes(raw, opts...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report, flags.pretty)
		},
	}
	flags.register(cmd)
	return cmd
}

func extractCmd() *cobra.Command {
	var (
		flags   parseFlags
		element string
		idAttr  string
	)
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Parse every message in an XML envelope and print the results as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			doc, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			results, err := labreport.ParseEnvelope(context.Background(), envelope.New(element, idAttr), doc, opts...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), results, flags.pretty)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&element, "element", envelope.DefaultElement, "envelope element holding one message")
	cmd.Flags().StringVar(&idAttr, "id-attr", envelope.DefaultIDAttr, "attribute carrying the message id")
	return cmd
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one ingestion pass over the inbox directory and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := ingest.NewDirSource(cfg.InboxDir, cfg.ProcessedDir)
			if err != nil {
				return err
			}
			sum, err := a.pipeline.Run(ctx, src)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sum, true)
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send one HL7 message to an MLLP listener and print the ACK",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ack, err := hl7v2.Send(ctx, addr, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.ReplaceAll(string(ack), "\r", "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2575", "MLLP listener address")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "deadline for the whole exchange")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			tok, err := auth.IssueToken([]byte(cfg.JWTSecret), subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "integration", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeParse}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// readInput reads the named file, or r when no file (or "-") is given.
func readInput(r io.Reader, args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("input is empty")
	}
	return data, nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
