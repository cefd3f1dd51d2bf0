package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkoenig/bb2gh/config"
	"github.com/tkoenig/bb2gh/internal/bitbucket"
	"github.com/tkoenig/bb2gh/internal/cache"
	"github.com/tkoenig/bb2gh/internal/github"
	"github.com/tkoenig/bb2gh/internal/mapping"
	"github.com/tkoenig/bb2gh/internal/render"
	"github.com/tkoenig/bb2gh/internal/sync"
)

func main() {
	configPath := flag.String("config", "bb2gh.toml", "Path to configuration file")
	bbRepo := flag.String("bitbucket-repo", "", "Bitbucket repository to migrate (format: owner/name)")
	ghRepo := flag.String("github-repo", "", "GitHub repository to migrate into (defaults to the configured mapping)")
	skipAttachments := flag.Bool("skip-attachments", false, "Skip the attachment archive pre-pass")
	update := flag.Bool("update", false, "Update already migrated items instead of skipping them")
	dryRun := flag.Bool("dry-run", false, "Log planned GitHub writes without performing them")
	issueIDs := flag.String("issues", "", "Comma-separated issue ids to migrate instead of all issues")
	pullIDs := flag.String("pulls", "", "Comma-separated pull request ids to migrate instead of all pull requests")
	cachePath := flag.String("cache", "", "Path to a sqlite file caching Bitbucket responses between runs")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *bbRepo == "" {
		log.Fatal().Msg("missing -bitbucket-repo")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	target := *ghRepo
	if target == "" {
		target = cfg.GitHubRepo(*bbRepo)
	}
	if target == "" {
		log.Fatal().Str("repo", *bbRepo).Msg("no github repository configured for bitbucket repository")
	}

	issues, err := parseIDs(*issueIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -issues list")
	}
	pulls, err := parseIDs(*pullIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -pulls list")
	}

	bb := bitbucket.New(*bbRepo, cfg.Bitbucket.Username, cfg.Bitbucket.AppPassword)
	var src sync.Source = bb
	if *cachePath != "" {
		cached, err := cache.New(*cachePath, bb)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open bitbucket cache")
		}
		defer cached.Close()
		src = cached
	}

	gh, err := github.NewClient(cfg.GitHub.Token, target, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create github client")
	}

	mapper := mapping.New(cfg)
	renderer := render.New(mapper, *bbRepo)

	syncer := sync.New(src, gh, mapper, renderer, sync.Options{
		SkipAttachments: *skipAttachments,
		Update:          *update,
		IssueIDs:        issues,
		PullIDs:         pulls,
	})

	start := time.Now()
	log.Info().Str("bitbucket", *bbRepo).Str("github", target).Msg("starting migration")

	if err := syncer.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	log.Info().Dur("duration", time.Since(start)).Msg("migration completed")
}

func parseIDs(list string) ([]int, error) {
	if list == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(list, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
