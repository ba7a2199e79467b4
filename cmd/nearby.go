package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/cropprice/internal/model"
	"github.com/sells-group/cropprice/internal/resolve"
)

var (
	nearbyLat    float64
	nearbyLon    float64
	nearbyRadius float64
	nearbyLimit  int
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List reference districts near a coordinate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("nearby"); err != nil {
			return err
		}
		table, err := loadReference(ctx, cfg.Reference)
		if err != nil {
			return err
		}

		// No price source: ranking only.
		r := resolve.New(table, nil, resolve.Options{RadiusKM: cfg.Search.RadiusKM})
		matches, err := r.Nearby(model.Point{Lat: nearbyLat, Lon: nearbyLon}, nearbyRadius, nearbyLimit)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no reference districts in range")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tSTATE\tDISTRICT\tKM")
		for i, m := range matches {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\n", i+1, m.State, m.District, m.DistanceKM)
		}
		return w.Flush()
	},
}

func init() {
	nearbyCmd.Flags().Float64Var(&nearbyLat, "lat", 0, "latitude in decimal degrees (required)")
	nearbyCmd.Flags().Float64Var(&nearbyLon, "lon", 0, "longitude in decimal degrees (required)")
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 0, "search radius in km (default from config)")
	nearbyCmd.Flags().IntVar(&nearbyLimit, "limit", 10, "maximum districts to list (0 for all)")
	_ = nearbyCmd.MarkFlagRequired("lat")
	_ = nearbyCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(nearbyCmd)
}
