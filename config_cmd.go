package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/dgnsrekt/tiercache/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# cache root (default: the user cache dir)
# dir: "~/.cache/tiercache/data"
# entries kept per memory and disk tier, per domain
max_entries: 500
# how long durable entries stay fresh
expiry:
  quotes: "15m"
  series: "1h"
  currencies: "24h"
# zstd level for values on disk, 0 disables compression
compression_level: 3
# remote fetches allowed per minute, per domain
requests_per_minute: 60
# shed in-process tiers when the heap grows past this size (e.g. "512MiB")
memory_threshold: ""
memory_interval: "5s"
# how often LRU statistics are recomputed
stats_interval: "30s"

# optional shared remote tier
redis:
  addr: ""
  password: ""
  db: 0
  prefix: "tiercache:"
`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit the tiercache config file",
	Long: paragraph(fmt.Sprintf("\n%s the tiercache config file in $EDITOR. A missing file is created with the defaults, and the result is validated when the editor exits.",
		keyword("Edit"))),
	Example: paragraph("tiercache config\ntiercache config --config path/to/tiercache.yml"),
	Args:    cobra.NoArgs,
	// A broken file must stay editable, so the root config load is skipped.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("tiercache", configFile)
		if err != nil {
			return fmt.Errorf("could not find an editor: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor exited with an error: %w", err)
		}

		if _, err := checkConfigFile(configFile); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), danger("The config file was saved but does not load:"))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", keyword(configFile))
		return nil
	},
}

// checkConfigFile loads path on its own viper instance, so the result
// does not depend on flags or the environment of this process.
func checkConfigFile(path string) (config.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("could not parse %s: %w", path, err)
	}
	dir, err := defaultCacheDir()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v, dir) //nolint:wrapcheck
}

// ensureConfigFile resolves configFile and writes the defaults there when
// nothing exists yet. Only YAML files are accepted.
func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}
	if configFile == "" {
		return errors.New("no config file location could be determined")
	}
	if ext := filepath.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%q is not a supported config type: use .yaml or .yml", ext)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("could not create config dir: %w", err)
	}
	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not create config file: %w", err)
	}
	if _, err := f.WriteString(defaultConfig); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not write config file: %w", err)
	}
	return f.Close() //nolint:wrapcheck
}
