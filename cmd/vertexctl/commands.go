package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vertex-audit/pkg/analysis"
	"vertex-audit/pkg/app"
	"vertex-audit/pkg/config"
	"vertex-audit/pkg/events"
	"vertex-audit/pkg/logger"
	"vertex-audit/pkg/output"
	"vertex-audit/pkg/sigma"
)

var version = "0.1.0"

// errRiskThreshold makes the process exit non-zero without printing usage.
var errRiskThreshold = errors.New("risk threshold reached")

type globalOpts struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:   "vertexctl",
		Short: "Analyze cloud audit logs for security incidents",
		Long: `vertexctl normalizes cloud audit records, flags critical events,
correlates them into attack chains and writes a narrative report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config YAML")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level to stderr")
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("vertexctl version %s\n", version))

	root.AddCommand(newAnalyzeCmd(g), newRulesCmd(g))
	return root
}

func (g *globalOpts) load() (*config.Config, error) {
	cfg, err := app.LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.verbose {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel("warn")
	}
	return cfg, nil
}

type analyzeOpts struct {
	rulesDir    string
	noCorrelate bool
	format      string
	outPath     string
	failOn      string
}

func newAnalyzeCmd(g *globalOpts) *cobra.Command {
	o := &analyzeOpts{}
	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Analyze a JSON audit log file",
		Long: `Analyze a JSON array of audit records (or a CloudTrail {"Records": [...]} document).
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, o, args[0])
		},
	}
	cmd.Flags().StringVar(&o.rulesDir, "rules", "", "Directory of detection rules (overrides config)")
	cmd.Flags().BoolVar(&o.noCorrelate, "no-correlate", false, "Skip the causal graph and attack chains")
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVarP(&o.outPath, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&o.failOn, "fail-on", "", "Exit non-zero when risk is at least this level (low, medium, high, critical)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalOpts, o *analyzeOpts, input string) error {
	if o.format != "text" && o.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", o.format)
	}
	var threshold events.RiskLevel
	if o.failOn != "" {
		lvl, err := events.ParseRiskLevel(o.failOn)
		if err != nil {
			return err
		}
		threshold = lvl
	}

	cfg, err := g.load()
	if err != nil {
		return err
	}
	if o.rulesDir != "" {
		cfg.Analysis.RulesDir = o.rulesDir
	}
	if o.noCorrelate {
		f := false
		cfg.Analysis.Correlate = &f
	}

	data, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}
	svc, err := app.NewService(cfg, "cli", nil)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	report, err := svc.AnalyzeJSON(context.Background(), data)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if o.outPath != "" {
		f, err := os.Create(o.outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := writeReport(w, o.format, report); err != nil {
		return err
	}
	if o.failOn != "" && report.RiskLevel >= threshold {
		return fmt.Errorf("%w: %s >= %s", errRiskThreshold, report.RiskLevel, threshold)
	}
	return nil
}

func readInput(stdin io.Reader, input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(input)
}

func writeReport(w io.Writer, format string, r *analysis.Report) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return output.WriteText(w, r)
}

func newRulesCmd(g *globalOpts) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect detection rules",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Rule directory (overrides config)")

	resolve := func() (string, error) {
		if dir != "" {
			return dir, nil
		}
		cfg, err := g.load()
		if err != nil {
			return "", err
		}
		if cfg.Analysis.RulesDir == "" {
			return "", errors.New("no rule directory: set --dir or analysis.rules_dir")
		}
		return cfg.Analysis.RulesDir, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rule files with their metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := resolve()
			if err != nil {
				return err
			}
			metas, err := sigma.ListRuleMeta(d)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLEVEL\tSTATUS\tTITLE\tFILE")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Level, m.Status, m.Title, m.File)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Compile every rule file and report the ones that fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := resolve()
			if err != nil {
				return err
			}
			rules, err := sigma.LoadDir(d)
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) compiled from %s\n", len(rules), d)
			return err
		},
	})
	return cmd
}
