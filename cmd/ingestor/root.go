package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"review_hub/internal/adapters/observability"
	"review_hub/internal/adapters/source"
	"review_hub/internal/app"
	"review_hub/internal/domain"
	"review_hub/internal/shared"
	"review_hub/internal/storage/sqlstore"
)

type options struct {
	source      string
	driver      string
	dsn         string
	applySchema bool
	batchSize   int
}

// newRootCmd builds the CLI; flags default to the environment config.
func newRootCmd(cfg shared.Config) *cobra.Command {
	opts := options{
		source:      cfg.IngestSource,
		driver:      cfg.DBDriver,
		dsn:         cfg.DBDSN,
		applySchema: cfg.ApplySchema,
		batchSize:   cfg.IngestBatchSize,
	}

	cmd := &cobra.Command{
		Use:   "ingestor [source]",
		Short: "Load a review CSV into the database",
		Long: `Reads a review CSV from a local path, an http(s) URL or s3://bucket/key,
rejects invalid rows and inserts the rest. Reviews and accounts that already
exist are left untouched, so re-running the same file is safe.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Logger = observability.NewLogger(cfg.AppEnv)
			observability.SetLevel(cfg.LogLevel)

			if len(args) == 1 {
				opts.source = args[0]
			}
			if cmd.Flags().Changed("driver") && !cmd.Flags().Changed("dsn") {
				opts.dsn = shared.DefaultDSN(opts.driver)
			}
			err := run(cmd.Context(), cfg, opts, cmd.OutOrStdout())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.source, "source", opts.source, "CSV location: path, http(s) URL or s3://bucket/key")
	f.StringVar(&opts.driver, "driver", opts.driver, "database driver: mysql, postgres or sqlite")
	f.StringVar(&opts.dsn, "dsn", opts.dsn, "database DSN (defaults per driver)")
	f.BoolVar(&opts.applySchema, "apply-schema", opts.applySchema, "create tables and indexes if missing")
	f.IntVar(&opts.batchSize, "batch-size", opts.batchSize, "rows per insert transaction")
	return cmd
}

func run(ctx context.Context, cfg shared.Config, opts options, out io.Writer) error {
	repo, err := sqlstore.Open(ctx, opts.driver, opts.dsn, cfg.DBConnectTimeout)
	if err != nil {
		return err
	}
	defer repo.Close()

	if opts.applySchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	src, err := source.Open(ctx, opts.source, source.Options{
		S3Region:    cfg.S3Region,
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return err
	}
	defer src.Close()
	log.Info().Str("source", opts.source).Strs("columns", src.Header()).Msg("source opened")

	sum, loadErr := app.NewLoaderService(repo, opts.batchSize).Load(ctx, src)
	printSummary(out, opts.source, sum)
	if loadErr != nil {
		return loadErr
	}

	reviews, accounts, err := repo.Counts(ctx)
	if err != nil {
		// the load itself succeeded
		log.Warn().Err(err).Msg("could not count stored rows")
		return nil
	}
	fmt.Fprintf(out, "database now holds %d reviews and %d accounts\n", reviews, accounts)
	return nil
}

func printSummary(out io.Writer, location string, s domain.LoadSummary) {
	fmt.Fprintln(out, "Source:", location)
	fmt.Fprintln(out, "Run:", s.RunID)

	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"rows seen", strconv.Itoa(s.RowsSeen)})
	table.Append([]string{"rows accepted", strconv.Itoa(s.RowsAccepted)})
	table.Append([]string{"rows rejected", strconv.Itoa(s.RowsRejected)})

	reasons := make([]string, 0, len(s.Rejections))
	for r := range s.Rejections {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		table.Append([]string{"  " + r, strconv.Itoa(s.Rejections[r])})
	}

	table.Append([]string{"reviews inserted", strconv.FormatInt(s.ReviewsInserted, 10)})
	table.Append([]string{"accounts inserted", strconv.FormatInt(s.AccountsInserted, 10)})
	table.Append([]string{"duration", s.Duration.Round(time.Millisecond).String()})
	table.Render()
}
