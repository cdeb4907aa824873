package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isosplit/isosplit/internal/build"
	"github.com/isosplit/isosplit/internal/split"
)

func routesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the routes in the entry file without building",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProject()
			if err != nil {
				return err
			}
			routes, err := build.New(cfg, build.Options{}).Routes(context.Background())
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(split.NewManifest(routes), "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(routes) == 0 {
				info("No %s declarations in %s", cfg.Marker.Name, cfg.Entry)
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tBINDING\tLINE\tENDPOINT")
			for _, r := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.Binding, r.Line, split.EndpointPath(r.ID))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the route table as JSON")
	return cmd
}
