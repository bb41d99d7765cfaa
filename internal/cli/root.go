package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/nanofield/internal/config"
)

var (
	cfgFile    string
	schemaFile string
	verbose    bool
)

// version is overridden at build time.
var version = "0.1.0-dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nanofield",
	Short: "NanoID fields for SQLite backed collections",
	Long: `nanofield manages collections whose identifier fields are NanoIDs.

  - YAML schema with nanoid fields (alphabet, size, uniqueness)
  - Collision checked generation with a bounded number of attempts
  - Regeneration of identifiers with dependent records kept in sync
  - File uploads stored under generated, collision free paths

Apply the schema:
  nanofield migrate apply

Create a record:
  nanofield record create links --set url=https://example.com`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return setupLogging(cfg.Logging, cmd.ErrOrStderr())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nanofield.yaml)")
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema", "", "schema file (default from config, then ./schema.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Version = version
}

var loadedConfig *config.Config

// loadConfig reads the config file and NANOFIELD_* environment once per
// process.
func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	loadedConfig = cfg
	return cfg, nil
}

// setupLogging configures the global zerolog logger. --verbose forces the
// debug level.
func setupLogging(cfg config.LoggingConfig, stderr io.Writer) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := stderr
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output: %w", err)
		}
		out = f
	}
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.Output != ""}
	}

	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("nanofield version %s", version)
}
