package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/geomcache/geomcache/internal/cache"
	"github.com/geomcache/geomcache/pkg/types"
	"github.com/geomcache/geomcache/pkg/utils"
)

const previewElements = 8

func tierFlag(cmd *cobra.Command, tier *string) {
	cmd.Flags().StringVar(tier, "tier", "", "limit to one disk tier (buffer or files)")
}

func checkTier(tier string) error {
	switch tier {
	case "", cache.TierBuffer, cache.TierFiles:
		return nil
	}
	return fmt.Errorf("unknown tier %q, want %s or %s", tier, cache.TierBuffer, cache.TierFiles)
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show size and hit statistics per tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStats(cmd.OutOrStdout(), a.manager)
		},
	}
}

func printStats(out io.Writer, m *cache.Manager) error {
	stats := m.Stats()
	tiers := make([]string, 0, len(stats))
	for tier := range stats {
		tiers = append(tiers, tier)
	}
	slices.Sort(tiers)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tENTRIES\tSIZE\tCAPACITY\tHITS\tMISSES\tEVICTIONS")
	for _, tier := range tiers {
		s := stats[tier]
		capacity := "-"
		if s.Capacity > 0 {
			capacity = humanize.IBytes(uint64(s.Capacity))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%d\n",
			tier, s.Entries, utils.FormatBytes(s.Size), capacity, s.Hits, s.Misses, s.Evictions)
	}
	return w.Flush()
}

func newListCmd(a *app) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entries, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkTier(tier); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tKEY\tSIZE\tLAST ACCESS")
			write := func(name string, entries []types.EntryInfo) {
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						name, e.Key, utils.FormatBytes(e.Size), humanize.Time(e.LastAccess))
				}
			}
			if tier != cache.TierFiles {
				write(cache.TierBuffer, a.manager.Buffers.Entries())
			}
			if tier != cache.TierBuffer && a.manager.Files != nil {
				write(cache.TierFiles, a.manager.Files.Entries())
			}
			return w.Flush()
		},
	}
	tierFlag(cmd, &tier)
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkTier(tier); err != nil {
				return err
			}
			if tier != cache.TierFiles {
				if err := a.manager.Buffers.Clear(); err != nil {
					return err
				}
			}
			if tier != cache.TierBuffer && a.manager.Files != nil {
				if err := a.manager.Files.Clear(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}
	tierFlag(cmd, &tier)
	return cmd
}

func newEvictCmd(a *app) *cobra.Command {
	var (
		tier string
		to   string
	)
	cmd := &cobra.Command{
		Use:   "evict --to SIZE",
		Short: "Evict least recently used entries until a tier fits in SIZE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkTier(tier); err != nil {
				return err
			}
			target, err := utils.ParseBytes(to)
			if err != nil {
				return err
			}

			type evictable interface {
				Size() int64
				MaxSize() int64
				InsureCapacity(requested int64) bool
			}
			evict := func(name string, c evictable) {
				before := c.Size()
				// free everything above target
				c.InsureCapacity(max(c.MaxSize()-target, 0))
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n",
					name, utils.FormatBytes(before), utils.FormatBytes(c.Size()))
			}
			if tier != cache.TierFiles {
				evict(cache.TierBuffer, a.manager.Buffers)
			}
			if tier != cache.TierBuffer && a.manager.Files != nil {
				evict(cache.TierFiles, a.manager.Files)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target size, e.g. 512MB")
	_ = cmd.MarkFlagRequired("to")
	tierFlag(cmd, &tier)
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get LABEL",
		Short: "Print a cached buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, ok := a.manager.GetBuffer(args[0])
			if !ok {
				return fmt.Errorf("%s: not cached", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s[%d] %s\n%s\n",
				buf.Label, buf.Type(), buf.NumElements(),
				utils.FormatBytes(buf.SizeBytes()), preview(buf.Elements))
			return nil
		},
	}
}

func preview(e types.Elements) string {
	var values []string
	add := func(v any) { values = append(values, fmt.Sprint(v)) }
	switch e := e.(type) {
	case types.Bytes:
		for _, v := range e[:min(len(e), previewElements)] {
			add(v)
		}
	case types.Shorts:
		for _, v := range e[:min(len(e), previewElements)] {
			add(v)
		}
	case types.Ints:
		for _, v := range e[:min(len(e), previewElements)] {
			add(v)
		}
	case types.Floats:
		for _, v := range e[:min(len(e), previewElements)] {
			add(v)
		}
	case types.Doubles:
		for _, v := range e[:min(len(e), previewElements)] {
			add(v)
		}
	}
	if e != nil && e.Len() > previewElements {
		values = append(values, "...")
	}
	return "[" + strings.Join(values, " ") + "]"
}

func newPutFileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put-file KEY PATH",
		Short: "Move a file or directory into the file cache under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.manager.Files == nil {
				return fmt.Errorf("file cache is disabled")
			}
			stored, err := a.manager.Files.Put(args[0], nil, args[1])
			if err != nil {
				return err
			}
			if stored == args[1] {
				fmt.Fprintf(cmd.OutOrStdout(), "%s does not fit, left in place\n", args[1])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), stored)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics for the opened cache until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.collector.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("serving metrics", "address", a.cfg.Monitoring.Metrics.Address)
			<-ctx.Done()
			return a.collector.Stop(context.WithoutCancel(ctx))
		},
	}
}
