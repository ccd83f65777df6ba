package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewCmdHistory() *cobra.Command {
	var id uint
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the archived versions of a device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newDemoEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close(ctx)
			return printHistory(ctx, env, id)
		},
	}
	cmd.Flags().UintVar(&id, "id", 0, "Device id; all devices when unset")
	return cmd
}

func printHistory(ctx context.Context, env *demoEnv, id uint) error {
	var conds []any
	if id != 0 {
		conds = append(conds, "id = ?", id)
	}
	records, err := env.history.Find(ctx, nil, conds...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "HID\tARCHIVED\tID\tNAME\tOWNER\tSTATUS\tDELETED")
	for _, r := range records {
		d := r.Entity.(*Device)
		deleted := ""
		if d.DeletedAt.Valid {
			deleted = d.DeletedAt.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.ArchivedAt.Format(time.RFC3339), d.ID, d.Name, d.Owner, d.Status, deleted)
	}
	return w.Flush()
}
