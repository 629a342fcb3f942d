// Command pipelinectl is the operator CLI for the document pipeline: schema
// migration, uploads, re-injection of stuck documents, re-indexing, audit
// inspection, offline extraction and search over the local index.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pipelinectl",
		Usage: "Operate the document processing pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "configs/development.yaml",
				EnvVars: []string{"DP_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: migrateCommand,
			},
			{
				Name:      "upload",
				Usage:     "Store a file and announce it to the pipeline",
				ArgsUsage: "<file>",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "uploaded-by",
						Aliases: []string{"u"},
						Usage:   "Uploader recorded on the document",
					},
					&cli.StringFlag{
						Name:  "mime-type",
						Usage: "MIME type; sniffed from the content when omitted",
					},
					&cli.StringFlag{
						Name:  "classification",
						Usage: "Optional document classification",
					},
				},
			},
			{
				Name:      "reinject",
				Usage:     "Re-publish the ingested event of PENDING documents",
				ArgsUsage: "[document-id...]",
				Action:    reinjectCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all-pending",
						Usage: "Reinject every PENDING document",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum documents reinjected with --all-pending",
						Value: 1000,
					},
				},
			},
			{
				Name:      "reindex",
				Usage:     "Re-publish the index event of PROCESSED documents",
				ArgsUsage: "<document-id...>",
				Action:    reindexCommand,
			},
			{
				Name:      "audit",
				Usage:     "Print a document's audit trail and check its lifecycle",
				ArgsUsage: "<document-id>",
				Action:    auditCommand,
			},
			{
				Name:      "extract",
				Usage:     "Run text extraction on a local file without touching the pipeline",
				ArgsUsage: "<file>",
				Action:    extractCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mime-type",
						Usage: "MIME type; sniffed from the content when omitted",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Query the local search index",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum hits",
						Value:   10,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
