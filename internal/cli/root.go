// Package cli wires the session lifecycle into a cobra command tree. Each
// command resolves its collaborators through the shared app context so
// configuration, storage drivers and logging are set up exactly once.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"StarkSession/internal/chain"
	"StarkSession/internal/config"
	"StarkSession/internal/keystore"
	"StarkSession/internal/session"
	"StarkSession/pkg/logger"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	JSON       bool
	jsonSet    bool
}

// NewRootCommand creates the root command for the starksession CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "starksession",
		Short: "Session-key authorization and policy-scoped execution for Starknet accounts",
		Long: `starksession manages short-lived session keys for Starknet accounts:
generate a keypair locally, have the account owner authorize it against a
declarative policy document in the browser, then execute contract calls
within those policy bounds without further approval.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.jsonSet = cmd.Flags().Changed("json")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to the JSON config file")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "emit a structured JSON outcome on stdout")

	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewAuthorizeCommand(opts))
	cmd.AddCommand(NewExecuteCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewCalldataCommand(opts))
	cmd.AddCommand(NewReceiptCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

// app bundles the collaborators a command needs at run time.
type app struct {
	cfg       *config.Config
	formatter *Formatter
	keys      *keystore.Store
	sessions  session.Store
	chains    chain.ChainDefinitions
}

// newApp loads configuration, initialises logging and opens the stores.
func newApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = os.Getenv("STARKSESSION_CONFIG")
	}
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// 命令行开关优先于配置文件
	if opts.jsonSet {
		cfg.CLI.JSONOutput = opts.JSON
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	keys, err := keystore.NewStore(cfg.Session.StoragePath)
	if err != nil {
		return nil, err
	}

	sessions, err := openSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	chains, err := chain.LoadChainDefinitions(cfg.Runtime.ChainsFile)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		formatter: NewFormatter(cmd.OutOrStdout(), cfg.CLI.JSONOutput),
		keys:      keys,
		sessions:  sessions,
		chains:    chains,
	}, nil
}

// openSessionStore 按配置选择会话存储驱动。
func openSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.SessionStore.Driver {
	case "file", "":
		return session.NewFileStore(filepath.Join(cfg.Session.StoragePath, "sessions"))
	case "mysql":
		return session.NewMySQLStore(cfg.Storage.SessionStore.DSN)
	default:
		return nil, fmt.Errorf("不支持的会话存储驱动: %s", cfg.Storage.SessionStore.Driver)
	}
}

// Close releases store handles.
func (a *app) Close() {
	if a.sessions != nil {
		_ = a.sessions.Close()
	}
	_ = logger.Sync()
}

// run wraps a command body with app setup and outcome reporting.
func run(opts *RootOptions, body func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := body(cmd.Context(), a, args); err != nil {
			a.formatter.Failure(err)
			// 错误已经输出，向上只传递退出码
			return ErrReported
		}
		return nil
	}
}

// ErrReported marks errors that were already reported by the formatter.
// main only converts it into a non-zero exit code.
var ErrReported = fmt.Errorf("command failed")
