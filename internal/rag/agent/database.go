package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// DatabaseAgent runs one query and formats each row as "key: value\n…"
// text. Postgres is implemented via pgx; MySQL/SQLite are stubbed per
// spec.md §4.12 since no driver for either appears in the retrieved
// pack.
type DatabaseAgent struct{}

func (a *DatabaseAgent) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	driver := stringOption(cfg, "driver", "postgres")
	query := stringOption(cfg, "query", "")
	if query == "" {
		return nil, rerr.New("database.Run", rerr.ConfigInvalid, fmt.Errorf("options.query is required"))
	}

	switch driver {
	case "postgres", "postgresql":
		return a.runPostgres(ctx, cfg, query)
	case "mysql", "sqlite":
		return nil, rerr.New("database.Run", rerr.MissingDependency, fmt.Errorf("driver %q is not built into this module", driver))
	default:
		return nil, rerr.New("database.Run", rerr.ConfigInvalid, fmt.Errorf("unsupported driver %q", driver))
	}
}

func (a *DatabaseAgent) runPostgres(ctx context.Context, cfg model.AgentConfig, query string) ([]*model.Document, error) {
	conn, err := pgx.Connect(ctx, cfg.SourceURL)
	if err != nil {
		return nil, rerr.New("database.runPostgres", rerr.SourceAuth, fmt.Errorf("connect: %w", err))
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, rerr.New("database.runPostgres", rerr.Transient, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	colNames := make([]string, len(fields))
	for i, f := range fields {
		colNames[i] = string(f.Name)
	}

	var docs []*model.Document
	rowIdx := 0
	for rows.Next() {
		if cfg.MaxItems > 0 && len(docs) >= cfg.MaxItems {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, rerr.New("database.runPostgres", rerr.Transient, err)
		}

		var sb strings.Builder
		keys := make([]string, 0, len(colNames))
		rowMap := make(map[string]interface{}, len(colNames))
		for i, col := range colNames {
			if i < len(values) {
				rowMap[col] = values[i]
				keys = append(keys, col)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %v\n", k, rowMap[k])
		}

		docs = append(docs, &model.Document{
			ID:       fmt.Sprintf("%s#%d", cfg.AgentID, rowIdx),
			Text:     strings.TrimRight(sb.String(), "\n"),
			Metadata: map[string]interface{}{"source": "database", "row": rowIdx},
		})
		rowIdx++
	}
	if err := rows.Err(); err != nil {
		return nil, rerr.New("database.runPostgres", rerr.Transient, err)
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}
