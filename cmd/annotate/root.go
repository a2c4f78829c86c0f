package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v3"

	"github.com/variant-interpretation-server/internal/config"
	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/input"
	"github.com/variant-interpretation-server/internal/pipeline"
	"github.com/variant-interpretation-server/internal/reference"
	"github.com/variant-interpretation-server/internal/setup"
	"github.com/variant-interpretation-server/internal/tabular"
)

// unmatchedRow is one line of the unmatched-variants report
type unmatchedRow struct {
	Chrom string `csv:"CHROM"`
	Pos   int    `csv:"POS"`
	Ref   string `csv:"REF"`
	Alt   string `csv:"ALT"`
}

// batchRunner is the part of the pipeline service the CLI drives
type batchRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.BatchResult, error)
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "annotate",
		Short:        "Annotate and interpret genomic variants from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config.yaml")

	root.AddCommand(newRunCmd(&configFile))
	root.AddCommand(newValidityCmd(&configFile))
	root.AddCommand(newSetupCmd())
	return root
}

func loadConfig(configFile string) (*domain.Config, *logrus.Logger, error) {
	manager, err := config.NewManager(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg := manager.GetConfig()
	// stdout may carry the result table
	cfg.Logging.Output = "stderr"
	return cfg, config.NewLogger(cfg.Logging), nil
}

func newRunCmd(configFile *string) *cobra.Command {
	var (
		inputPath     string
		outputPath    string
		unmatchedPath string
		apiKey        string
		delimiter     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Annotate a VCF, CSV or TSV file and write the result table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service := setup.NewService(cfg, logger)
			return runAnnotate(ctx, service, runOptions{
				inputPath:     inputPath,
				outputPath:    outputPath,
				unmatchedPath: unmatchedPath,
				apiKey:        apiKey,
				delimiter:     delimiter,
				stdout:        cmd.OutOrStdout(),
				stderr:        cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "variant file (.vcf, .vcf.gz, .csv, .tsv)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "result table path (default stdout)")
	cmd.Flags().StringVar(&unmatchedPath, "unmatched", "", "write variants with no ClinVar match to this path")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "text-generation API key (overrides llm.api_key)")
	cmd.Flags().StringVar(&delimiter, "delimiter", "\t", "output field delimiter")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

type runOptions struct {
	inputPath     string
	outputPath    string
	unmatchedPath string
	apiKey        string
	delimiter     string
	stdout        io.Writer
	stderr        io.Writer
}

func runAnnotate(ctx context.Context, service batchRunner, opts runOptions) error {
	delim, err := parseDelimiter(opts.delimiter)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	variants, err := input.ParseVariants(filepath.Base(opts.inputPath), f)
	if err != nil {
		return err
	}

	batch, runErr := service.Run(ctx, pipeline.Request{Variants: variants, APIKey: opts.apiKey})
	if runErr != nil && (batch == nil || !errors.Is(runErr, context.Canceled)) {
		return runErr
	}

	out := opts.stdout
	if opts.outputPath != "" {
		file, err := os.Create(opts.outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer file.Close()
		out = file
	}
	if err := tabular.WriteTable(out, delim, domain.Columns, batch.Rows()); err != nil {
		return err
	}

	if opts.unmatchedPath != "" && len(batch.Unmatched) > 0 {
		if err := writeUnmatched(opts.unmatchedPath, delim, batch.Unmatched); err != nil {
			return err
		}
	}

	fmt.Fprintf(opts.stderr, "Matched %d of %d variants\n", batch.Matched, batch.Total)
	if batch.Cancelled {
		fmt.Fprintf(opts.stderr, "Cancelled: wrote %d completed rows\n", len(batch.Records))
		return runErr
	}
	return nil
}

func writeUnmatched(path string, delim rune, variants []domain.Variant) error {
	rows := make([]unmatchedRow, 0, len(variants))
	for _, v := range variants {
		rows = append(rows, unmatchedRow{Chrom: v.Chromosome, Pos: v.Position, Ref: v.Reference, Alt: v.Alternate})
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create unmatched report: %w", err)
	}
	defer file.Close()
	return tabular.Marshal(&rows, file, delim)
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "\t", `\t`, "tab":
		return '\t', nil
	case ",", "comma":
		return ',', nil
	}
	r := []rune(s)
	if len(r) != 1 || strings.ContainsRune("\"\r\n", r[0]) {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r[0], nil
}

func newValidityCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validity GENE...",
		Short: "Print the gene-disease validity classification of genes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			// a failed load is logged and leaves every gene unknown
			table, _ := reference.LoadValidity(cfg.Reference.ValidityPath, logger)
			runValidity(cmd.OutOrStdout(), table, args)
			return nil
		},
	}
}

func runValidity(w io.Writer, table *reference.ValidityTable, genes []string) {
	for _, gene := range genes {
		fmt.Fprintf(w, "%s\t%s\n", gene, table.Classify(null.StringFrom(gene)))
	}
}

func newSetupCmd() *cobra.Command {
	var opts setup.Options

	cmd := &cobra.Command{
		Use:   "setup-desktop",
		Short: "Register the MCP server with Claude Desktop",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := setup.ConfigureClaudeDesktop(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q in %s\n", setup.DesktopServerName, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "desktop-config", "", "Claude Desktop config file (platform default when empty)")
	cmd.Flags().StringVar(&opts.BinaryPath, "binary", "", "path to the mcp-server binary")
	cmd.Flags().StringVar(&opts.ServerConfig, "server-config", "", "config.yaml passed to the mcp-server")
	cmd.Flags().StringVar(&opts.ClinVarPath, "clinvar", "", "ClinVar reference path")
	cmd.Flags().StringVar(&opts.ValidityPath, "validity", "", "gene-disease validity CSV path")
	return cmd
}
