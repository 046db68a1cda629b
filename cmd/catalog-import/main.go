package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/internal/repository"
	"github.com/noah-isme/syllabus-tracker-api/internal/service"
	"github.com/noah-isme/syllabus-tracker-api/pkg/cache"
	"github.com/noah-isme/syllabus-tracker-api/pkg/config"
	"github.com/noah-isme/syllabus-tracker-api/pkg/database"
	"github.com/noah-isme/syllabus-tracker-api/pkg/logger"
)

func main() {
	var (
		file    string
		dryRun  bool
		migrate bool
		timeout time.Duration
	)

	flag.StringVar(&file, "file", "", "Path to a YAML or JSON catalog tree")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	flag.BoolVar(&migrate, "migrate", true, "Apply pending migrations before importing")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall import timeout")
	flag.Parse()

	if file == "" {
		fmt.Fprintln(os.Stderr, "usage: catalog-import -file catalog.yaml [-dry-run]")
		os.Exit(2)
	}

	tree, err := service.LoadCatalogFile(file)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}

	if dryRun {
		subjects, err := service.FlattenTree(tree)
		if err != nil {
			log.Fatalf("catalog rejected: %v", err)
		}
		modules := 0
		for _, subject := range subjects {
			modules += len(subject.Modules)
		}
		fmt.Printf("catalog ok: %d branches, %d subjects, %d modules\n", len(tree.Branches), len(subjects), modules)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := run(ctx, cfg, logr, tree, migrate); err != nil {
		logr.Fatal("catalog import failed", zap.String("file", file), zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger, tree models.CatalogTree, migrate bool) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logr.Info("migrations applied", zap.Strings("versions", applied))
		}
	}

	// Redis is optional here; without it running servers pick up the new
	// catalog once their cached snapshot expires.
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cached catalog will expire by ttl", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, nil, cfg.Catalog.CacheTTL, logr, redisClient != nil)

	catalogSvc := service.NewCatalogService(repository.NewCatalogRepository(db), cacheSvc, nil, cfg.Catalog.CacheTTL, logr)
	summary, err := catalogSvc.Import(ctx, tree)
	if err != nil {
		return err
	}

	logr.Info("catalog imported",
		zap.Int("branches", summary.Branches),
		zap.Int("subjects", summary.Subjects),
		zap.Int("modules", summary.Modules),
	)
	return nil
}
