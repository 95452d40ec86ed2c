package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/shardkv/internal/cluster"
)

func newDemoCommand(a *app) *cobra.Command {
	var resizeTo int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through insert, select, update, delete and resize on a small cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(a, resizeTo, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&resizeTo, "resize", 12, "Shard count to resize to")
	return cmd
}

func runDemo(a *app, resizeTo int, out io.Writer) error {
	c, err := a.newCluster()
	if err != nil {
		return err
	}

	keyA, err := c.Insert(document{"name": "A"})
	if err != nil {
		return err
	}
	keyB, err := c.Insert(document{"name": "B"})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Inserted A as %s (shard %d)\n", keyA, c.Owner(keyA))
	fmt.Fprintf(out, "Inserted B as %s (shard %d)\n", keyB, c.Owner(keyB))

	if err := printRecord(out, c, keyA); err != nil {
		return err
	}

	if err := c.Update(keyA, document{"name": "A2"}); err != nil {
		return err
	}
	fmt.Fprintln(out, "Updated A")
	if err := printRecord(out, c, keyA); err != nil {
		return err
	}

	if err := c.Delete(keyB); err != nil {
		return err
	}
	fmt.Fprintln(out, "Deleted B")
	if _, err := c.Select(keyB); !errors.Is(err, cluster.ErrKeyNotFound) {
		return errors.Errorf("deleted key %s still selectable: %v", keyB, err)
	}
	fmt.Fprintf(out, "Select %s: %v\n", keyB, cluster.ErrKeyNotFound)

	from := c.NumShards()
	if err := c.Resize(resizeTo); err != nil {
		return err
	}
	fmt.Fprintf(out, "Resized from %d to %d shards\n", from, c.NumShards())
	if err := printRecord(out, c, keyA); err != nil {
		return err
	}

	for _, line := range c.Describe() {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Total records: %d\n", c.Len())
	return c.Verify()
}

func printRecord(out io.Writer, c *cluster.Cluster[document], key string) error {
	value, err := c.Select(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Select %s: %v (shard %d)\n", key, value["name"], c.Owner(key))
	return nil
}
