package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mfgintel/toolproxy/internal/cli/output"
	"github.com/mfgintel/toolproxy/internal/registry"
)

func newHealthCommand() *cobra.Command {
	var tenant, server, format string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the health endpoint of one or all tool servers of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter, err := output.NewFormatter(output.ResolveFormat(format))
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			var results []registry.ServerHealth
			if server != "" {
				if err := a.lookup(tenant, server); err != nil {
					return err
				}
				res, err := a.registry.CheckHealth(cmd.Context(), tenant, server, a.proxy)
				if err != nil {
					return err
				}
				results = append(results, res)
			} else {
				results = a.registry.HealthCheckAll(cmd.Context(), tenant, a.proxy)
			}

			out, err := formatHealth(formatter, results)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)

			for _, r := range results {
				if r.Status != registry.StatusHealthy {
					return &exitError{code: ExitCodeFailed, reported: true}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&server, "server", "", "Probe only this server")
	cmd.Flags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	if err := cmd.MarkFlagRequired("tenant"); err != nil {
		panic(fmt.Sprintf("failed to mark tenant flag as required: %v", err))
	}
	return cmd
}

func formatHealth(f output.OutputFormatter, results []registry.ServerHealth) (string, error) {
	if _, ok := f.(*output.TableFormatter); !ok {
		return f.Format(results)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.ServerID,
			r.Name,
			r.Status,
			strconv.FormatInt(r.LatencyMs, 10) + "ms",
			r.Error,
		})
	}
	return f.FormatTable([]string{"SERVER", "NAME", "STATUS", "LATENCY", "ERROR"}, rows)
}
