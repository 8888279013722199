package cmd

import (
	"fmt"
	"strconv"

	"github.com/lepinkainen/reelbase/internal/cache"
	"github.com/lepinkainen/reelbase/internal/store"
	"github.com/lepinkainen/reelbase/internal/tui"
)

// StatusCmd represents the status command
type StatusCmd struct{}

func (c *StatusCmd) Run(env *runEnv) error {
	db, err := openStore(env.ctx, env.cfg.Store, false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	schema := strconv.FormatUint(uint64(version), 10)
	switch {
	case version == 0:
		schema = "none (run migrate)"
	case dirty:
		schema += " (dirty)"
	}

	rows := []tui.Row{
		{Label: "driver", Value: db.Dialect().String()},
		{Label: "schema", Value: schema},
	}
	if version > 0 {
		counts, err := store.Counts(env.ctx, db)
		if err != nil {
			return err
		}
		for _, tc := range counts {
			rows = append(rows, tui.Row{Label: tc.Table, Value: strconv.FormatInt(tc.Rows, 10)})
		}
	}
	fmt.Fprint(env.out, tui.RenderTable("Store", rows))

	info, err := cache.Inspect(env.cfg.Cache.File)
	if err != nil {
		return err
	}
	fmt.Fprint(env.out, tui.RenderTable("Lookup cache", cacheRows(info)))
	return nil
}

func cacheRows(info cache.FileInfo) []tui.Row {
	if !info.Exists {
		return []tui.Row{
			{Label: "file", Value: info.Path},
			{Label: "entries", Value: "none (file not created yet)"},
		}
	}
	return []tui.Row{
		{Label: "file", Value: info.Path},
		{Label: "size", Value: strconv.FormatInt(info.Size, 10) + " bytes"},
		{Label: "entries", Value: strconv.Itoa(info.Stats.Total)},
		{Label: "found", Value: strconv.Itoa(info.Stats.Positive)},
		{Label: "not found", Value: strconv.Itoa(info.Stats.Negative)},
	}
}
