// Command farebox-build runs the builder pipeline of spec.md §4.2 over
// one or more collaborator-parsed GTFS feeds and writes a timetable
// store, per spec.md §6's exit code contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/builder"
	"github.com/farebox/farebox/feed"
	"github.com/farebox/farebox/store"
)

// Exit codes per spec.md §6.
const (
	exitOK                  = 0
	exitBadInput            = 2
	exitFeedInconsistent    = 3
	exitIOError             = 4
	exitCollaboratorFailure = 5
)

var (
	feedPaths          []string
	outDir             string
	epochDay           int64
	horizonDays        int
	maxTransferSeconds int
	maxTransferCount   int
	dedupRadiusMeters  float64
	accessRPS          float64
	accessBurst        int
)

var rootCmd = &cobra.Command{
	Use:          "farebox-build",
	Short:        "Builds a farebox timetable store from parsed GTFS feeds",
	SilenceUsage: true,
	RunE:         runBuild,
}

func init() {
	rootCmd.Flags().StringSliceVarP(&feedPaths, "feed", "f", nil, "path to a JSON-encoded feed.Feed (repeatable)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory for the built store")
	rootCmd.Flags().Int64Var(&epochDay, "epoch-day", 0, "calendar epoch day (days since Unix epoch)")
	rootCmd.Flags().IntVar(&horizonDays, "horizon-days", 0, "calendar horizon in days (default 365)")
	rootCmd.Flags().IntVar(&maxTransferSeconds, "max-transfer-seconds", 0, "max precomputed transfer duration (default 600)")
	rootCmd.Flags().IntVar(&maxTransferCount, "max-transfer-count", 0, "max precomputed transfers per stop (default 64)")
	rootCmd.Flags().Float64Var(&dedupRadiusMeters, "dedup-radius-meters", 0, "stop dedup radius in meters (default 15)")
	rootCmd.Flags().Float64Var(&accessRPS, "access-rps", 50, "rate limit for the external access-router collaborator, if any")
	rootCmd.Flags().IntVar(&accessBurst, "access-burst", 10, "burst size for the external access-router collaborator, if any")
	_ = rootCmd.MarkFlagRequired("out")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case builder.IsFeedInconsistent(err):
		return exitFeedInconsistent
	case isBadInput(err):
		return exitBadInput
	case isIOError(err):
		return exitIOError
	default:
		return exitCollaboratorFailure
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	if len(feedPaths) == 0 {
		return badInput(fmt.Errorf("at least one --feed is required"))
	}

	feeds := make([]feed.Feed, 0, len(feedPaths))
	for _, p := range feedPaths {
		f, err := loadFeed(p)
		if err != nil {
			return badInput(err)
		}
		feeds = append(feeds, f)
	}

	opts := builder.Options{
		EpochDay:           epochDay,
		HorizonDays:        horizonDays,
		MaxTransferSeconds: maxTransferSeconds,
		MaxTransferCount:   maxTransferCount,
		DedupRadiusMeters:  dedupRadiusMeters,
	}.Normalize()

	// The access router is consulted once in a build, for transfer
	// precomputation (spec.md §4.2 step 5). No stop index exists before
	// the builder deduplicates stops, so deferredRouter constructs the
	// NewRTreeRouter inside PairwiseTransfers, against the StopIndex the
	// builder hands it, rather than up front.
	router := &deferredRouter{rps: accessRPS, burst: accessBurst}

	result, err := builder.Build(context.Background(), feeds, opts, router)
	if err != nil {
		return err
	}

	if err := result.Serialize(outDir); err != nil {
		return ioError(err)
	}

	s, err := store.Open(outDir)
	if err != nil {
		return ioError(fmt.Errorf("verifying written store: %w", err))
	}
	defer s.Close()

	fmt.Fprintf(os.Stdout, "built store: %d stops, %d routes, %d trips\n", s.NumStops(), s.NumRoutes(), s.NumTrips())
	return nil
}

func loadFeed(path string) (feed.Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return feed.Feed{}, err
	}
	var f feed.Feed
	if err := json.Unmarshal(data, &f); err != nil {
		return feed.Feed{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// deferredRouter wraps access.NewRTreeRouter, built lazily against the
// StopIndex the builder hands to PairwiseTransfers, since no stop index
// exists before dedup runs.
type deferredRouter struct {
	rps   float64
	burst int
}

func (d *deferredRouter) PairwiseTransfers(ctx context.Context, stops access.StopIndex, maxSeconds, maxCount int) (map[uint32][]access.Reachable, error) {
	return access.NewRTreeRouter(stops, stops.Len()).PairwiseTransfers(ctx, stops, maxSeconds, maxCount)
}

func (d *deferredRouter) ReachableFrom(ctx context.Context, c access.Coord, maxSeconds int) ([]access.Reachable, error) {
	return nil, fmt.Errorf("deferredRouter: ReachableFrom is not used at build time")
}

func (d *deferredRouter) ReachableTo(ctx context.Context, c access.Coord, maxSeconds int) ([]access.Reachable, error) {
	return nil, fmt.Errorf("deferredRouter: ReachableTo is not used at build time")
}

type badInputError struct{ error }
type ioErrorError struct{ error }

func badInput(err error) error { return badInputError{err} }
func ioError(err error) error  { return ioErrorError{err} }

func isBadInput(err error) bool {
	_, ok := err.(badInputError)
	return ok
}

func isIOError(err error) bool {
	_, ok := err.(ioErrorError)
	return ok
}
