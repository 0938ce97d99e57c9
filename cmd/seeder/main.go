package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"

	"github.com/unclebandit/communitybot-admin/internal/config"
	"github.com/unclebandit/communitybot-admin/internal/db"
	"github.com/unclebandit/communitybot-admin/internal/logger"
)

func main() {
	var (
		dir        string
		schemaOnly bool
	)
	flag.StringVar(&dir, "dir", "seed", "directory of *.sql seed files, applied in name order")
	flag.BoolVar(&schemaOnly, "schema-only", false, "apply the schema and skip seed files")
	flag.Parse()

	cfg, err := config.Load()
	log := logger.New(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	log.Info().Msg("schema applied")
	if schemaOnly {
		return
	}

	files, err := seedFiles(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("list seed files")
	}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}
	log.Info().Int("files", len(files)).Msg("database seeding completed")
}

func seedFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
