package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/layer/gold"
	"github.com/malbeclabs/medallion/pkg/layer/silver"
)

type StatusCmd struct{}

func NewStatusCmd() *StatusCmd {
	return &StatusCmd{}
}

func (c *StatusCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last build of every stage and whether its relation is still intact",
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

			return printStatus(ctx, cmd.OutOrStdout(), a.db)
		},
	}
}

func printStatus(ctx context.Context, w io.Writer, db duck.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	markers, err := duck.ListMarkers(ctx, conn)
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		fmt.Fprintln(w, "No stages have been built.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Stage", "Relation", "Built At", "Marker\nRows", "Current\nRows", "Fingerprint", "Run"})

	for _, m := range markers {
		current := "missing"
		rel, ok := relationOf(m.Stage)
		if ok {
			exists, err := duck.TableExists(ctx, conn, rel)
			if err != nil {
				return err
			}
			if exists {
				rows, err := duck.CountRows(ctx, conn, rel)
				if err != nil {
					return err
				}
				current = strconv.FormatInt(rows, 10)
			}
		}
		table.Append([]string{
			m.Stage,
			m.Relation,
			m.BuiltAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(m.RowCount, 10),
			current,
			shortFingerprint(m.Fingerprint),
			m.RunID,
		})
	}
	table.Render()
	return nil
}

func relationOf(stage string) (duck.Relation, bool) {
	switch stage {
	case bronze.StageName:
		return bronze.Relation, true
	case silver.StageName:
		return silver.Relation, true
	case gold.StageName:
		return gold.Relation, true
	}
	return duck.Relation{}, false
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
