// Command farebox-query is a minimal local test harness for planning a
// single journey against a built store, per SPEC_FULL.md §4.7 — not the
// HTTP surface, which spec.md §1 keeps out of scope.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/query"
	"github.com/farebox/farebox/reconstruct"
	"github.com/farebox/farebox/store"
)

var (
	storeDir       string
	originLat      float64
	originLon      float64
	destLat        float64
	destLon        float64
	startEpochMs   int64
	maxTransfers   int
	maxWalkSeconds int
	deadlineMs     int64
)

var rootCmd = &cobra.Command{
	Use:          "farebox-query",
	Short:        "Plans a journey against a farebox timetable store",
	SilenceUsage: true,
	RunE:         runQuery,
}

func init() {
	rootCmd.Flags().StringVarP(&storeDir, "store", "s", "", "path to a built timetable store")
	rootCmd.Flags().Float64Var(&originLat, "origin-lat", 0, "origin latitude")
	rootCmd.Flags().Float64Var(&originLon, "origin-lon", 0, "origin longitude")
	rootCmd.Flags().Float64Var(&destLat, "dest-lat", 0, "destination latitude")
	rootCmd.Flags().Float64Var(&destLon, "dest-lon", 0, "destination longitude")
	rootCmd.Flags().Int64Var(&startEpochMs, "start-epoch-ms", 0, "desired departure time, epoch milliseconds")
	rootCmd.Flags().IntVar(&maxTransfers, "max-transfers", 0, "max transfers (default 4)")
	rootCmd.Flags().IntVar(&maxWalkSeconds, "max-walk-seconds", 0, "max walk seconds (default 1200)")
	rootCmd.Flags().Int64Var(&deadlineMs, "deadline-epoch-ms", 0, "query deadline, epoch milliseconds (0 = none)")
	_ = rootCmd.MarkFlagRequired("store")
	_ = rootCmd.MarkFlagRequired("start-epoch-ms")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := store.Open(storeDir)
	if err != nil {
		return err
	}
	defer s.Close()

	router := access.NewRTreeRouter(s.Stops(), s.NumStops())
	driver := query.NewDriver(s, router)

	req := query.Request{
		OriginLat:       originLat,
		OriginLon:       originLon,
		DestLat:         destLat,
		DestLon:         destLon,
		StartEpochMs:    startEpochMs,
		MaxTransfers:    maxTransfers,
		MaxWalkSeconds:  maxWalkSeconds,
		DeadlineEpochMs: deadlineMs,
	}

	journeys, err := driver.Plan(context.Background(), req)
	if err != nil {
		return err
	}
	if len(journeys) == 0 {
		fmt.Println("no itinerary found")
		return nil
	}

	for i, j := range journeys {
		fmt.Printf("journey %d: depart %s arrive %s (%d transfers)\n",
			i, epochString(j.DepartEpoch), epochString(j.ArriveEpoch), j.Transfers)
		for _, leg := range j.Legs {
			printLeg(leg)
		}
	}
	return nil
}

func epochString(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func printLeg(leg reconstruct.Leg) {
	switch leg.Kind {
	case reconstruct.LegAccess:
		fmt.Printf("  access -> stop %d (%s - %s)\n", leg.ToStop, epochString(leg.StartEpoch), epochString(leg.EndEpoch))
	case reconstruct.LegTransit:
		fmt.Printf("  transit route %d %q: stop %d -> stop %d (%s - %s)\n",
			leg.RouteID, leg.Headsign, leg.FromStop, leg.ToStop, epochString(leg.StartEpoch), epochString(leg.EndEpoch))
	case reconstruct.LegTransfer:
		fmt.Printf("  walk: stop %d -> stop %d (%s - %s)\n", leg.FromStop, leg.ToStop, epochString(leg.StartEpoch), epochString(leg.EndEpoch))
	case reconstruct.LegEgress:
		fmt.Printf("  egress: stop %d -> destination (%s - %s)\n", leg.FromStop, epochString(leg.StartEpoch), epochString(leg.EndEpoch))
	}
}
