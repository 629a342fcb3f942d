package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/query"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/search/shard"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/postgres"
	"github.com/urfave/cli/v2"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := app.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withPublisher builds the upload publisher on top of a full App and closes
// it when fn returns.
func withPublisher(c *cli.Context, fn func(ctx context.Context, p *publisher.Publisher) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	a, err := app.New(ctx, cfg, "pipelinectl")
	if err != nil {
		return err
	}
	defer a.Close()
	p := publisher.New(a.Store, a.Blob,
		a.Producer(cfg.Kafka.Topics.Ingested),
		a.Producer(cfg.Kafka.Topics.ToIndex))
	return fn(ctx, p)
}

func withStore(c *cli.Context, fn func(ctx context.Context, st *store.Postgres) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	return fn(c.Context, store.NewPostgres(db))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, st *store.Postgres) error {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema up to date")
		return nil
	})
}

func uploadCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("a file path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	req := &ingestion.UploadRequest{
		Filename:   filepath.Base(path),
		MimeType:   c.String("mime-type"),
		UploadedBy: c.String("uploaded-by"),
		Content:    content,
	}
	if v := c.String("classification"); v != "" {
		req.Classification = &v
	}
	return withPublisher(c, func(ctx context.Context, p *publisher.Publisher) error {
		res, err := p.Upload(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func reinjectCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	all := c.Bool("all-pending")
	if len(ids) == 0 && !all {
		return fmt.Errorf("pass document ids or --all-pending")
	}
	return withPublisher(c, func(ctx context.Context, p *publisher.Publisher) error {
		if all {
			n, err := p.ReinjectPending(ctx, c.Int("limit"))
			fmt.Printf("reinjected %d pending documents\n", n)
			return err
		}
		for _, id := range ids {
			if err := p.Reinject(ctx, id); err != nil {
				return fmt.Errorf("reinjecting %s: %w", id, err)
			}
			fmt.Printf("reinjected %s\n", id)
		}
		return nil
	})
}

func reindexCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("at least one document id is required")
	}
	return withPublisher(c, func(ctx context.Context, p *publisher.Publisher) error {
		for _, id := range ids {
			if err := p.Reindex(ctx, id); err != nil {
				return fmt.Errorf("reindexing %s: %w", id, err)
			}
			fmt.Printf("reindex requested for %s\n", id)
		}
		return nil
	})
}

func auditCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a document id is required")
	}
	return withStore(c, func(ctx context.Context, st *store.Postgres) error {
		doc, err := st.Document(ctx, id)
		if err != nil {
			return err
		}
		entries, err := st.AuditHistory(ctx, id)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-28s %-8s", e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), e.Action, e.Result)
			if e.NewStatus != "" {
				line += fmt.Sprintf(" %s -> %s", e.PreviousStatus, e.NewStatus)
			}
			fmt.Println(line)
		}
		history := audit.Statuses(entries)
		if err := document.ValidateHistory(history); err != nil {
			return fmt.Errorf("document %s has an invalid lifecycle %v: %w", id, history, err)
		}
		fmt.Printf("status %s, lifecycle %v valid\n", doc.Status, history)
		return nil
	})
}

func extractCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("a file path is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	res := app.Extractor(cfg.Extractor).Extract(c.Context, c.String("mime-type"), content)
	return printJSON(res)
}

func searchCommand(c *cli.Context) error {
	q := c.Args().First()
	if q == "" {
		return fmt.Errorf("a query is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	router, err := shard.NewRouter(cfg.Search, nil)
	if err != nil {
		return err
	}
	defer router.Close()

	engines := router.Engines()
	shards := make([]query.Shard, len(engines))
	for i, e := range engines {
		shards[i] = e
	}
	res, err := query.NewExecutor(shards).Execute(c.Context, query.Parse(q), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(res)
}
