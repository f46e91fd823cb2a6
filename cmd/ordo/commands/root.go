package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/ordo/internal/builtin"
	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/config"
	"github.com/moolen/ordo/internal/logging"
	"github.com/moolen/ordo/internal/manifest"
)

const Version = "0.1.0"

var (
	logLevelFlags   []string // Supports multiple --log-level flags
	configPath      string
	manifestPath    string
	entrypointFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "ordo",
	Short: "Ordo - component lifecycle orchestrator",
	Long: `Ordo builds the dependency graph of the components declared in a manifest,
starts them once each in dependency order and stops them in reverse.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	_ = logging.Sync()
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level builtin.http=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level", nil,
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level system=debug --log-level builtin.*=warn")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the ordo config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "f", "",
		"Path to the component manifest (overrides the config file)")
	rootCmd.PersistentFlags().StringSliceVar(&entrypointFlags, "entrypoint", nil,
		"Entrypoint component id; repeatable (overrides config and manifest)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(kindsCmd)
}

// loadConfig reads the config file, applies flag overrides and sets up
// logging from the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if manifestPath != "" {
		cfg.Manifest = manifestPath
	}
	if len(entrypointFlags) > 0 {
		cfg.Entrypoints = entrypointFlags
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := setupLog(cfg, logLevelFlags); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLog initializes the logging system.
// Priority: CLI flags > Environment variables > config file
func setupLog(cfg *config.Config, flags []string) error {
	if err := logging.SetOutput(os.Stderr, cfg.LogFormat); err != nil {
		return err
	}

	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	if defaultLevel == "" {
		defaultLevel = cfg.LogLevel
	}

	merged := make(map[string]string, len(cfg.PackageLogLevels)+len(packageLevels))
	for pkg, level := range cfg.PackageLogLevels {
		merged[pkg] = level
	}
	for pkg, level := range packageLevels {
		merged[pkg] = level
	}

	return logging.Initialize(defaultLevel, merged)
}

// parseLogLevelFlags parses CLI flags and environment variables
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "builtin.http=debug"], or ["info"]
// Env vars: LOG_LEVEL_BUILTIN_HTTP=debug (package name uppercased, dots to underscores)
//
// The default level is empty when neither source sets one.
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[convertEnvKeyToPackageName(parts[0])] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := ""
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
		if _, err := logging.ParseLevel(defaultLevel); err != nil {
			return "", nil, err
		}
	}

	for pkg, level := range result {
		if _, err := logging.ParseLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_BUILTIN_HTTP -> builtin.http
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// loadCatalog loads the manifest named by cfg and builds its catalog from the
// builtin kinds. It also returns the effective entrypoints.
func loadCatalog(cfg *config.Config) (*manifest.File, *component.Catalog, []component.ID, error) {
	f, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, nil, nil, err
	}
	catalog, err := f.Catalog(builtin.NewRegistry())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", cfg.Manifest, err)
	}
	return f, catalog, entrypoints(cfg, f), nil
}

func entrypoints(cfg *config.Config, f *manifest.File) []component.ID {
	if len(cfg.Entrypoints) == 0 {
		return f.EntrypointIDs()
	}
	ids := make([]component.ID, len(cfg.Entrypoints))
	for i, e := range cfg.Entrypoints {
		ids[i] = component.ID(e)
	}
	return ids
}
