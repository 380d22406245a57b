package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openkg/toolagent/internal/adapters"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect background knowledge-graph embedding tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded tasks, newest first",
	RunE:  runTaskList,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show one task's state and log window",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStatus,
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskStatusCmd)
}

func runTaskList(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	records, err := rt.store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no tasks recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPABILITY\tMODEL\tMODE\tSTATE\tSTARTED")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.ID, record.Capability, record.Model, record.Mode,
			record.State, record.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runTaskStatus(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	status, err := adapters.CheckTask(rt.store, args[0])
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status.Record); err != nil {
		return err
	}
	if status.LogHead != "" {
		fmt.Printf("--- log head ---\n%s\n", status.LogHead)
	}
	if status.LogTail != "" {
		fmt.Printf("--- log tail ---\n%s\n", status.LogTail)
	}
	return nil
}
