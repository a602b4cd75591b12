package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

type StageCmd struct {
	name  string
	short string
}

func NewStageCmd(name, short string) *StageCmd {
	return &StageCmd{name: name, short: short}
}

func (c *StageCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   c.name,
		Short: c.short,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			stage, err := a.stage(c.name)
			if err != nil {
				return err
			}
			h, err := a.runner.Ensure(ctx, stage)
			if err != nil {
				a.log.Error("cli: stage failed", "stage", c.name, "error", err)
				return err
			}
			return printRelation(ctx, cmd.OutOrStdout(), a.db, h)
		},
	}
}

// printRelation prints the column layout and row count of a built relation.
func printRelation(ctx context.Context, w io.Writer, db duck.DB, h pipeline.RelationHandle) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	cols, err := duck.Describe(ctx, conn, h.Relation)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Columns in %s:\n", h.Relation)
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Column", "Type", "Nullable"})
	for _, col := range cols {
		table.Append([]string{col.Name, col.Type, fmt.Sprintf("%t", col.Nullable)})
	}
	table.Render()

	state := "built"
	if h.Fresh {
		state = "unchanged"
	}
	fmt.Fprintf(w, "Total records in %s: %d (%s)\n", h.Relation, h.Rows, state)
	return nil
}
