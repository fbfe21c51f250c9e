package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/presales/internal/app"
	"github.com/ent0n29/presales/internal/estimate"
)

var estimateFormat string

var estimateCmd = &cobra.Command{
	Use:   "estimate <project description>",
	Short: "Resolve a project description against the estimate catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEstimate,
}

func init() {
	estimateCmd.Flags().StringVarP(&estimateFormat, "output", "o", "json", "Output format: json|yaml")
}

type estimateOutput struct {
	Query  string          `json:"query" yaml:"query"`
	Found  bool            `json:"found" yaml:"found"`
	Score  float64         `json:"score" yaml:"score"`
	Record estimate.Record `json:"estimate" yaml:"estimate"`
	Note   string          `json:"message,omitempty" yaml:"message,omitempty"`
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" && (cfg.EstimateSource == "postgres" || cfg.EstimateSource == "auto") {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
	}

	resolver, _, err := app.BuildResolver(ctx, cfg, pool)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	res := resolver.Resolve(query)
	out := estimateOutput{Query: query, Found: res.Found, Score: res.Score, Record: res.Record, Note: res.Message}

	switch strings.ToLower(estimateFormat) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(out)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format %q", estimateFormat)
	}
}
