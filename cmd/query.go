package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cropprice/internal/model"
	"github.com/sells-group/cropprice/internal/resolve"
)

var (
	queryLat      float64
	queryLon      float64
	queryCrop     string
	queryRadius   float64
	queryStrategy string
	queryOutput   string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Resolve nearby market prices for one coordinate and crop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !outputFormats[strings.ToLower(queryOutput)] {
			return eris.Errorf("unknown output format %q", queryOutput)
		}
		if queryStrategy != "" {
			if _, err := resolve.ParseStrategy(queryStrategy); err != nil {
				return err
			}
			cfg.Search.Strategy = queryStrategy
		}

		env, err := initEnv(ctx, "query")
		if err != nil {
			return err
		}

		res, err := env.Resolver.Resolve(ctx, model.PriceQuery{
			Lat:  queryLat,
			Lon:  queryLon,
			Crop: queryCrop,
		}, queryRadius)
		if err != nil {
			return eris.Wrapf(err, "query [%s]", model.KindOf(err))
		}

		return writeResult(cmd.OutOrStdout(), queryOutput, res)
	},
}

var outputFormats = map[string]bool{"": true, "json": true, "yaml": true, "yml": true}

// writeResult renders v as indented JSON or as YAML.
func writeResult(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

func init() {
	queryCmd.Flags().Float64Var(&queryLat, "lat", 0, "latitude in decimal degrees (required)")
	queryCmd.Flags().Float64Var(&queryLon, "lon", 0, "longitude in decimal degrees (required)")
	queryCmd.Flags().StringVar(&queryCrop, "crop", "", "crop name, e.g. Tomato (required)")
	queryCmd.Flags().Float64Var(&queryRadius, "radius", 0, "search radius in km (default from config)")
	queryCmd.Flags().StringVar(&queryStrategy, "strategy", "", "candidate strategy: district or state (default from config)")
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "json", "output format: json or yaml")
	_ = queryCmd.MarkFlagRequired("lat")
	_ = queryCmd.MarkFlagRequired("lon")
	_ = queryCmd.MarkFlagRequired("crop")
	rootCmd.AddCommand(queryCmd)
}
