// Command matchctl runs maintenance tasks against the matchmaking database:
// demo seeding and one-off curation or impression decay runs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	"github.com/oggyb/muzz-matchmaker/internal/logger"
	"github.com/oggyb/muzz-matchmaker/internal/service/curation"
)

var rootCmd = &cobra.Command{
	Use:           "matchctl",
	Short:         "matchctl - matchmaking maintenance tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Wipe the database and insert demo users, swipes and matches",
	RunE:  runSeed,
}

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Run stable-matching curation once and store curated partners",
	RunE:  runCurate,
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Halve every user's impression count once",
	RunE:  runDecay,
}

var (
	seedUsers   int
	seedMinimal bool
)

func init() {
	seedCmd.Flags().IntVarP(&seedUsers, "users", "n", 200, "Number of demo users")
	seedCmd.Flags().BoolVar(&seedMinimal, "minimal", false, "Insert the three user fixture instead")
	rootCmd.AddCommand(seedCmd, curateCmd, decayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*app.AppContext, error) {
	cfg := config.New()
	logger.InitFromConfig(cfg)

	database, err := db.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	return app.New(cfg, database, cache.NewRedisClient(cfg), logger.L()), nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	appCtx, err := setup()
	if err != nil {
		return err
	}
	if seedMinimal {
		err = db.SeedMinimalTestData(appCtx.DB)
	} else {
		err = db.SeedTestData(appCtx.DB, seedUsers, appCtx.Logger)
	}
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Seeding completed.")
	return nil
}

func runCurate(cmd *cobra.Command, _ []string) error {
	appCtx, err := setup()
	if err != nil {
		return err
	}
	rep, err := curation.NewService(appCtx).RunOnce(ctxOf(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Curated %d pairs from %d users in %s (%d blocking pairs)\n",
		rep.Pairs, rep.Considered, rep.Took, rep.Blocking)
	return nil
}

func runDecay(cmd *cobra.Command, _ []string) error {
	appCtx, err := setup()
	if err != nil {
		return err
	}
	n, err := curation.NewService(appCtx).Decay(ctxOf(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Decayed impressions for %d users\n", n)
	return nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
