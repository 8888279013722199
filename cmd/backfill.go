package cmd

import (
	"github.com/lepinkainen/reelbase/internal/pipeline"
	"github.com/lepinkainen/reelbase/internal/store"
)

// BackfillCmd represents the backfill command
type BackfillCmd struct {
	All     bool  `help:"Re-enrich every movie, not only those without an IMDb id"`
	Limit   int   `short:"n" help:"Stop after this many movies (0 = no limit)" default:"0"`
	AfterID int64 `help:"Start after this movie id" default:"0"`
	Offline bool  `help:"Do not call OMDb; use only cached answers"`
}

func (c *BackfillCmd) Run(env *runEnv) error {
	run, err := startRun(env.ctx, env.cfg, c.Offline)
	if err != nil {
		return err
	}
	defer run.close()

	pcfg := pipeline.Config{
		Workers:      env.cfg.Pipeline.Workers,
		RatingsBatch: env.cfg.Pipeline.RatingsBatch,
	}
	p, err := pipeline.New(env.ctx, pcfg, run.db, run.client, run.cache, run.pipelineOptions()...)
	if err != nil {
		return run.finish(env.ctx, err)
	}

	err = p.Backfill(env.ctx, store.BackfillFilter{
		MissingOnly: !c.All,
		AfterID:     c.AfterID,
		Limit:       c.Limit,
	})
	return run.finish(env.ctx, err)
}
