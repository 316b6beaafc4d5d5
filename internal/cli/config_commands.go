package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/filehub/internal/config"
	"github.com/rescale/filehub/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  `Manage filehub configuration settings.`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Create a configuration file interactively.

This will prompt you for:
  - API base URL and key
  - Poll interval and page size
  - Proxy settings (optional)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
				fmt.Fprintln(out, "Use --force to overwrite")
				return nil
			}

			cfg, err := promptConfig(newPrompter(cmd.InOrStdin(), out), out)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, configPath); err != nil {
				return err
			}

			GetLogger().Info().Str("path", configPath).Msg("Configuration saved")
			fmt.Fprintf(out, "\n✓ Configuration saved to: %s\n", configPath)
			fmt.Fprintln(out, "Check it with: filehub config show")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig collects a configuration starting from the defaults.
func promptConfig(p *prompter, out io.Writer) (*config.Config, error) {
	cfg := config.NewConfig()
	var err error

	fmt.Fprintln(out, "filehub Configuration Setup")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintln(out)

	if cfg.APIBaseURL, err = p.ask("API Base URL", cfg.APIBaseURL); err != nil {
		return nil, err
	}
	if cfg.APIKey, err = p.askSecret("API key (empty for none)"); err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Client Settings (press Enter for defaults)")
	fmt.Fprintln(out, "------------------------------------------")

	minPoll := int(constants.MinPollInterval.Milliseconds())
	if cfg.PollIntervalMs, err = p.askInt("Duplicate scan poll interval (ms)", cfg.PollIntervalMs, func(v int) bool { return v >= minPoll }); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = p.askInt(fmt.Sprintf("Page size %v", constants.AllowedPageSizes), cfg.PageSize, constants.IsAllowedPageSize); err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	useProxy, err := p.confirm("Configure proxy?")
	if err != nil {
		return nil, err
	}
	if useProxy {
		fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
		mode, err := p.ask("Proxy mode", "system")
		if err != nil {
			return nil, err
		}
		cfg.ProxyMode = strings.ToLower(mode)
		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			if cfg.ProxyHost, err = p.ask("Proxy host", ""); err != nil {
				return nil, err
			}
			if cfg.ProxyPort, err = p.askInt("Proxy port", 8080, func(v int) bool { return v > 0 && v < 65536 }); err != nil {
				return nil, err
			}
			if cfg.ProxyUser, err = p.ask("Proxy user", ""); err != nil {
				return nil, err
			}
			fmt.Fprintf(out, "  Proxy password is read from %s at runtime\n", config.EnvProxyPassword)
		}
	}

	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration.

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			configPath, _ := resolveConfigPath()
			printConfig(cmd.OutOrStdout(), cfg.Redacted(), configPath)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
	}
}

func printConfig(out io.Writer, cfg config.Config, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Server:")
	fmt.Fprintf(out, "  API Base URL: %s\n", cfg.APIBaseURL)
	if cfg.APIKey != "" {
		fmt.Fprintf(out, "  API Key:      %s\n", cfg.APIKey)
	} else {
		fmt.Fprintln(out, "  API Key:      <not set>")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Client:")
	fmt.Fprintf(out, "  Poll Interval:   %s\n", cfg.PollInterval())
	fmt.Fprintf(out, "  Search Debounce: %s\n", cfg.SearchDebounce())
	fmt.Fprintf(out, "  Page Size:       %d\n", cfg.PageSize)
	fmt.Fprintf(out, "  Request Rate:    %g/s (burst %g)\n", cfg.RequestRate, cfg.RequestBurst)
	fmt.Fprintf(out, "  Retries:         %d\n", cfg.RetryMax)
	fmt.Fprintf(out, "  Request Timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Host: %s:%d\n", cfg.ProxyHost, cfg.ProxyPort)
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(out, "  No Proxy: %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(out)

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "<console only>"
	}
	fmt.Fprintf(out, "Logging: %s (level %s)\n", logFile, cfg.LogLevel)
	fmt.Fprintf(out, "Notifications: %t\n", cfg.NotificationsEnabled)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration and log file paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", configPath)
			fmt.Fprintf(out, "Logs:   %s\n", config.DefaultLogFile())
			return nil
		},
	}
}
