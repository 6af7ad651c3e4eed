package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/impalineage/internal/cli/config"
	"github.com/leapstack-labs/impalineage/internal/cli/output"
	"github.com/leapstack-labs/impalineage/internal/cmapi"
	"github.com/leapstack-labs/impalineage/internal/corpus"
	"github.com/leapstack-labs/impalineage/internal/engine"
	"github.com/leapstack-labs/impalineage/internal/lineage"
	"github.com/leapstack-labs/impalineage/internal/publish"
	"github.com/leapstack-labs/impalineage/internal/state"
	"github.com/leapstack-labs/impalineage/internal/tasks"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext builds the context from the configuration loaded by the root
// command. Commands run on their own (as in tests) load the defaults.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.FromContext(ctx)
	if cfg == nil {
		var err error
		if cfg, err = config.Load("", nil); err != nil {
			return nil, err
		}
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(ctx),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// Window returns the configured ingestion window.
func (c *CommandContext) Window() corpus.Window {
	return corpus.Window{From: c.Cfg.Query.StartTime, To: c.Cfg.Query.EndTime}
}

// SearchOptions returns the configured lineage search options.
func (c *CommandContext) SearchOptions() lineage.Options {
	s := c.Cfg.Search
	return lineage.Options{
		Strategy:             lineage.Strategy(s.Strategy),
		ExcludeTables:        s.ExcludeTables,
		ExcludeKeywords:      s.ExcludeKeywords,
		IgnoreSourceDatabase: s.IgnoreSourceDB,
		SkipFullyExcluded:    s.SkipFullyExcluded,
		Logger:               c.Logger,
	}
}

// NewSource creates the cluster manager client.
func (c *CommandContext) NewSource() (*cmapi.Client, error) {
	if err := c.Cfg.ValidateSource(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := c.Cfg.Source
	return cmapi.New(cmapi.Config{
		Host:               s.Host,
		Port:               s.Port,
		APIVersion:         s.APIVersion,
		Cluster:            s.Cluster,
		Service:            s.Service,
		Username:           s.Username,
		Password:           s.Password,
		TLS:                s.TLS.Enabled,
		CAFile:             s.TLS.CAFile,
		InsecureSkipVerify: s.TLS.InsecureSkipVerify,
		Timeout:            s.Timeout,
		RateLimit:          s.RateLimit,
		Burst:              s.Burst,
		MaxRetries:         s.MaxRetries,
		Filter:             c.Cfg.Query.Filter,
		Logger:             c.Logger,
	})
}

// NewEngine creates an engine over source. store may be nil.
func (c *CommandContext) NewEngine(source corpus.Source, store state.Store) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Source:       source,
		Window:       c.Window(),
		BatchSize:    c.Cfg.Query.BatchSize,
		Search:       c.SearchOptions(),
		Parallelism:  c.Cfg.Search.Parallelism,
		AllowPartial: c.Cfg.Ingest.AllowPartial,
		Store:        store,
		Logger:       c.Logger,
	})
}

// OpenStore opens the run archive. It returns nil when no driver is configured.
func (c *CommandContext) OpenStore(ctx context.Context) (state.Store, error) {
	if c.Cfg.Store.Driver == "" {
		return nil, nil
	}
	store, err := state.Open(ctx, c.Cfg.Store.Driver, c.Cfg.Store.DSN, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	return store, nil
}

// NewUploader creates the report uploader. It returns nil when no bucket is configured.
func (c *CommandContext) NewUploader() (*publish.Uploader, error) {
	s3 := c.Cfg.Report.S3
	if s3.Bucket == "" {
		return nil, nil
	}
	return publish.New(publish.Config{
		Bucket:          s3.Bucket,
		Prefix:          s3.Prefix,
		Region:          s3.Region,
		Endpoint:        s3.Endpoint,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		PathStyle:       s3.PathStyle,
		Logger:          c.Logger,
	})
}

// OpenTasks reads the configured task list.
func (c *CommandContext) OpenTasks() (*tasks.List, error) {
	if err := c.Cfg.ValidateTasks(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	format, err := tasks.ParseFormat(c.Cfg.Tasks.Format)
	if err != nil {
		return nil, err
	}
	return tasks.Open(format, c.Cfg.Tasks.Path, tasks.Options{
		SkipHeader:     c.Cfg.Tasks.SkipHeader,
		OnlySuccessful: c.Cfg.Tasks.OnlySuccessful,
		Logger:         c.Logger,
	})
}

// addWindowFlags registers the flags selecting the query history.
func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Start of the query window (ISO-8601)")
	cmd.Flags().String("to", "", "End of the query window (ISO-8601)")
	cmd.Flags().String("host", "", "Cluster manager host")
	cmd.Flags().String("cluster", "", "Cluster name")
	cmd.Flags().String("filter", "", "Query list filter expression")
	cmd.Flags().Int("batch-size", 0, "Queries requested per page")
	cmd.Flags().Bool("allow-partial", false, "Continue with a partial index after a feed failure")
}

// addSearchFlags registers the lineage search flags.
func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().String("strategy", "", "Search strategy (dfs|stack)")
	cmd.Flags().StringSlice("exclude-table", nil, "Table never resolved nor reported missing (repeatable)")
	cmd.Flags().StringSlice("exclude-keyword", nil, "Exclude every table containing this text (repeatable)")
	cmd.Flags().Bool("ignore-source-db", false, "Match declared sources by table name only")
	_ = cmd.RegisterFlagCompletionFunc("strategy", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(lineage.DepthFirst), string(lineage.Stack)}, cobra.ShellCompDirectiveNoFileComp
	})
}
