package main

import (
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/hydromet-etl/internal/domain"
	"github.com/couchcryptid/hydromet-etl/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a report for one location and dataset as JSON",
		RunE:  runReport,
	}
	cmd.Flags().String("location", "", "Location name (required)")
	cmd.Flags().String("dataset", "", "Dataset name (required)")
	cmd.Flags().String("start", "", "Window start, YYYY-MM-DD or RFC 3339")
	cmd.Flags().String("end", "", "Window end, YYYY-MM-DD or RFC 3339")
	cmd.Flags().Bool("split", false, "Return concurrent readings as parallel series")
	cmd.Flags().Bool("export", false, "Also write CSV exports")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	req := report.Request{}
	req.Location, _ = cmd.Flags().GetString("location")
	req.Dataset, _ = cmd.Flags().GetString("dataset")
	req.Split, _ = cmd.Flags().GetBool("split")
	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")
	export, _ := cmd.Flags().GetBool("export")

	var err error
	if req.Start, err = domain.ParseBound(startFlag, false); err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if req.End, err = domain.ParseBound(endFlag, true); err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.reports.Build(ctx, req)
	if err != nil {
		return err
	}

	out := struct {
		report.Report
		Artifacts []report.Artifact `json:"artifacts,omitempty"`
	}{Report: rep}
	if export && !rep.Empty {
		if out.Artifacts, err = a.exporter.Export(ctx, rep); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newStationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "List catalog stations as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			source, _ := cmd.Flags().GetString("source")
			enrich, _ := cmd.Flags().GetBool("enrich")

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var out []domain.Station
			for _, st := range a.catalog.Stations() {
				if source != "" && st.Source != source {
					continue
				}
				if enrich {
					st = domain.EnrichStation(ctx, st, a.geocoder, a.logger)
				}
				out = append(out, st)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("source", "", "Only stations of this source")
	cmd.Flags().Bool("enrich", false, "Geocode stations through Mapbox when enabled")
	return cmd
}
