package cmd

import (
	"fmt"
)

// MigrateCmd represents the migrate command
type MigrateCmd struct{}

func (c *MigrateCmd) Run(env *runEnv) error {
	db, err := openStore(env.ctx, env.cfg.Store, true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	version, _, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Schema is at version %d\n", version)
	return nil
}
