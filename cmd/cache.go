package cmd

import (
	"fmt"

	"github.com/lepinkainen/reelbase/internal/cache"
	"github.com/lepinkainen/reelbase/internal/tui"
)

// CacheCmd groups the lookup cache maintenance commands
type CacheCmd struct {
	Stats        CacheStatsCmd        `cmd:"" help:"Show entry counts of the lookup cache"`
	ForgetMisses CacheForgetMissesCmd `cmd:"" help:"Drop cached not-found answers so they are looked up again"`
}

// CacheStatsCmd represents the cache stats command
type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(env *runEnv) error {
	info, err := cache.Inspect(env.cfg.Cache.File)
	if err != nil {
		return err
	}
	fmt.Fprint(env.out, tui.RenderTable("Lookup cache", cacheRows(info)))
	return nil
}

// CacheForgetMissesCmd represents the cache forget-misses command
type CacheForgetMissesCmd struct{}

func (c *CacheForgetMissesCmd) Run(env *runEnv) error {
	removed, err := cache.ForgetMissesFile(env.cfg.Cache.File)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Removed %d cached misses from %s\n", removed, env.cfg.Cache.File)
	return nil
}
