package estimate

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"
)

// Defaults is the built-in reference table.
func Defaults() []Record {
	return []Record{
		{
			ProjectType:     "e-commerce website",
			BudgetRange:     "$3k-$6k",
			TypicalTimeline: "2-3 months",
			Aliases:         []string{"ecommerce website", "e-commerce site", "online shop", "online store", "webshop"},
		},
		{
			ProjectType:     "mobile restaurant app",
			BudgetRange:     "$5k-$8k",
			TypicalTimeline: "3-4 months",
			Aliases:         []string{"restaurant app", "food ordering app"},
		},
		{
			ProjectType:     "CRM system",
			BudgetRange:     "$4k-$7k",
			TypicalTimeline: "4-6 months",
			Aliases:         []string{"crm", "customer relationship management"},
		},
		{
			ProjectType:     "chatbot integration",
			BudgetRange:     "$2k-$4k",
			TypicalTimeline: "2-3 months",
			Aliases:         []string{"chatbot", "chat bot"},
		},
		{
			ProjectType:     "custom logistics",
			BudgetRange:     "$10k-$20k",
			TypicalTimeline: "5-6 months",
			Aliases:         []string{"logistics system", "logistics platform"},
		},
	}
}

type yamlCatalog struct {
	Estimates []Record `yaml:"estimates"`
}

// LoadYAML reads records from a file shaped as `estimates: [{project_type: ...}]`.
func LoadYAML(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read estimate catalog: %w", err)
	}
	var doc yamlCatalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse estimate catalog %s: %w", path, err)
	}
	if len(doc.Estimates) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyCatalog)
	}
	return doc.Estimates, nil
}

// Querier is the subset of pgxpool.Pool the loader needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadPostgres reads the project_estimates table, seeding it with Defaults when
// it is empty.
func LoadPostgres(ctx context.Context, db Querier) ([]Record, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS project_estimates (
			id SERIAL PRIMARY KEY,
			project_type TEXT NOT NULL UNIQUE,
			budget_range TEXT NOT NULL,
			typical_timeline TEXT NOT NULL,
			aliases TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`); err != nil {
		return nil, fmt.Errorf("init estimates schema: %w", err)
	}

	records, err := queryRecords(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}

	for _, r := range Defaults() {
		if _, err := db.Exec(ctx,
			`INSERT INTO project_estimates (project_type, budget_range, typical_timeline, aliases)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (project_type) DO NOTHING`,
			r.ProjectType, r.BudgetRange, r.TypicalTimeline, r.Aliases,
		); err != nil {
			return nil, fmt.Errorf("seed estimate %q: %w", r.ProjectType, err)
		}
	}
	return queryRecords(ctx, db)
}

func queryRecords(ctx context.Context, db Querier) ([]Record, error) {
	rows, err := db.Query(ctx,
		`SELECT project_type, budget_range, typical_timeline, aliases
		 FROM project_estimates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ProjectType, &r.BudgetRange, &r.TypicalTimeline, &r.Aliases); err != nil {
			return nil, fmt.Errorf("scan estimate row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimate rows: %w", err)
	}
	return out, nil
}
