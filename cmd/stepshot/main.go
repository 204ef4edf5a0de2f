package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/v0xg/stepshot/internal/config"
	"github.com/v0xg/stepshot/internal/logging"
)

var (
	configPath string
	outputDir  string
	provider   string
	model      string
	engine     string
	headed     bool
	profile    string
	noSandbox  bool
	verbose    bool
	logFormat  string
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "stepshot",
		Short: "Turn a task description into a captioned screenshot walkthrough",
		Long: `stepshot asks a language model for a navigation plan, executes it in a real
browser and saves one screenshot per page-changing step.

Example:
  stepshot run "open billing settings and download the last invoice" https://app.example.com`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ./stepshot.yaml if present)")
	pf.StringVarP(&outputDir, "output-dir", "d", "", "Directory that receives run directories")
	pf.StringVar(&provider, "provider", "", "AI provider: claude, openai")
	pf.StringVar(&model, "model", "", "Specific model override")
	pf.StringVar(&engine, "browser", "", "Browser engine: rod, chromedp")
	pf.BoolVar(&headed, "headed", false, "Show the browser window")
	pf.StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	pf.BoolVar(&noSandbox, "no-sandbox", false, "Disable the Chrome sandbox (containers)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Show detailed progress")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text, json")

	rootCmd.AddCommand(newRunCmd(), newPlanCmd(), newExecCmd(), newBatchCmd(), newHistoryCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads the config, applies flags that were set explicitly and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("provider") {
		cfg.AI.Provider = provider
	}
	if flags.Changed("model") {
		cfg.AI.Model = model
	}
	if flags.Changed("browser") {
		cfg.Browser.Engine = engine
	}
	if flags.Changed("headed") {
		cfg.Browser.Headless = !headed
	}
	if flags.Changed("profile") {
		cfg.Browser.ProfileDir = profile
	}
	if flags.Changed("no-sandbox") {
		cfg.Browser.NoSandbox = noSandbox
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbose = verbose
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	verbose = cfg.Log.Verbose
	log := logging.New(os.Stderr, format, verbose)
	slog.SetDefault(log)
	return cfg, log, nil
}

// parseVars turns KEY=VALUE pairs into placeholder values. STEPSHOT_USERNAME and
// STEPSHOT_PASSWORD seed <USERNAME> and <PASSWORD> so credentials stay out of shell history.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, name := range []string{"USERNAME", "PASSWORD"} {
		if v := os.Getenv("STEPSHOT_" + name); v != "" {
			vars[name] = v
		}
	}
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, expected KEY=VALUE", kv)
		}
		vars[strings.ToUpper(k)] = v
	}
	return vars, nil
}

// progress receives the arrow-style status lines.
var progress io.Writer = os.Stdout

func logVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(progress, format+"\n", args...)
	}
}
