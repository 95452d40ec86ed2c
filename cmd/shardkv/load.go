package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/shardkv/internal/shard"
)

type loadOptions struct {
	records   int
	valueSize int
	resize    int
}

func newLoadCommand(a *app) *cobra.Command {
	o := loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Insert synthetic records and report how they spread over the shards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(a, o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&o.records, "records", "n", 10_000, "Number of records to insert")
	cmd.Flags().IntVar(&o.valueSize, "value-size", 64, "Payload bytes per record")
	cmd.Flags().IntVar(&o.resize, "resize", 0, "Resize to this many shards after loading, 0 to skip")
	return cmd
}

func runLoad(a *app, o loadOptions, out io.Writer) error {
	if o.records < 0 || o.valueSize < 0 || o.resize < 0 {
		return errors.New("--records, --value-size and --resize must not be negative")
	}

	c, err := a.newCluster()
	if err != nil {
		return err
	}

	payload := strings.Repeat("x", o.valueSize)
	start := time.Now()
	for i := 0; i < o.records; i++ {
		if _, err := c.Insert(document{"seq": i, "payload": payload}); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Inserted %s records into %d shards in %v\n",
		humanize.Comma(int64(o.records)), c.NumShards(), time.Since(start).Round(time.Millisecond))
	renderDistribution(out, c.Distribution())

	if o.resize > 0 {
		start = time.Now()
		if err := c.Resize(o.resize); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nResized to %d shards in %v\n", o.resize, time.Since(start).Round(time.Millisecond))
		renderDistribution(out, c.Distribution())
	}

	return c.Verify()
}

// renderDistribution prints one row per shard followed by load statistics.
func renderDistribution(out io.Writer, infos []shard.ShardInfo) {
	rows := make([][]string, 0, len(infos))
	counts := make(stats.Float64Data, 0, len(infos))
	var total uint64
	for _, info := range infos {
		rows = append(rows, []string{
			strconv.Itoa(info.ID),
			string(info.State),
			humanize.Comma(int64(info.KeyCount)),
			humanize.Bytes(uint64(info.ByteSize)),
			humanize.Comma(int64(info.Ops.Puts)),
			humanize.Comma(int64(info.Ops.Deletes)),
		})
		counts = append(counts, float64(info.KeyCount))
		total += uint64(info.ByteSize)
	}

	tb := tablewriter.NewWriter(out)
	tb.SetHeader([]string{"Shard", "State", "Records", "Size", "Puts", "Deletes"})
	tb.SetFooter([]string{"", "", "Total", humanize.Bytes(total), "", ""})
	tb.AppendBulk(rows)
	tb.Render()

	summary, err := summarize(counts)
	if err != nil {
		fmt.Fprintf(out, "no statistics: %v\n", err)
		return
	}
	fmt.Fprintln(out, summary)
}

func summarize(counts stats.Float64Data) (string, error) {
	mean, err := stats.Mean(counts)
	if err != nil {
		return "", err
	}
	stddev, err := stats.StandardDeviation(counts)
	if err != nil {
		return "", err
	}
	lo, err := stats.Min(counts)
	if err != nil {
		return "", err
	}
	hi, err := stats.Max(counts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("records per shard: mean %.1f, stddev %.1f, min %.0f, max %.0f", mean, stddev, lo, hi), nil
}
