package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
)

func newTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Convert a coordinate between RD New and WGS84",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "rd2wgs X Y",
			Short: "RD New meters to WGS84 lon/lat",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				x, y, err := parsePair(args)
				if err != nil {
					return err
				}
				p := crs.ToGeographic(model.ProjectedPoint{X: x, Y: y})
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.8f %.8f\n", p.Lon, p.Lat)
				return err
			},
		},
		&cobra.Command{
			Use:   "wgs2rd LON LAT",
			Short: "WGS84 lon/lat to RD New meters",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				lon, lat, err := parsePair(args)
				if err != nil {
					return err
				}
				p := crs.ToProjected(model.GeoPoint{Lon: lon, Lat: lat})
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.3f %.3f\n", p.X, p.Y)
				return err
			},
		},
	)
	return cmd
}

func parsePair(args []string) (float64, float64, error) {
	a, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("first coordinate: %w", err)
	}
	b, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("second coordinate: %w", err)
	}
	return a, b, nil
}
