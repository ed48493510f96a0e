package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/couchcryptid/hydromet-etl/internal/adapter/cocorahs"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/danr"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/ndgis"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/noaa"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/shadehill"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/usace"
	"github.com/couchcryptid/hydromet-etl/internal/adapter/usgs"
	"github.com/couchcryptid/hydromet-etl/internal/catalog"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the station catalog and print target counts per source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("catalog")
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			counts := map[string]int{}
			for _, st := range cat.Stations() {
				counts[st.Source]++
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tSTATIONS")
			for _, source := range []string{usgs.Source, noaa.Source, usace.Source, shadehill.Source, cocorahs.Source, ndgis.Source, danr.Source} {
				fmt.Fprintf(tw, "%s\t%d\n", source, counts[source])
			}
			return tw.Flush()
		},
	}
}
