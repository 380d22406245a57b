package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the configured capability catalog",
	RunE:  runCapabilities,
}

func runCapabilities(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREQUIRES\tPRODUCES\tDESCRIPTION")
	for _, capability := range rt.agent.Registry().List() {
		requires := make([]string, 0, len(capability.Requires))
		for _, kind := range capability.Requires {
			requires = append(requires, string(kind))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			capability.ID, strings.Join(requires, ","), capability.Produces, capability.Description)
	}
	return w.Flush()
}
