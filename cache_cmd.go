package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/tiercache/internal/cache"
	"github.com/dgnsrekt/tiercache/internal/lru"
	"github.com/dgnsrekt/tiercache/internal/market"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	getSeries   string
	getCurrency bool
	delDomain   string
	keysDomain  string
	clearAll    bool
	warmWorkers int
	warmTimeout time.Duration
	showMetrics bool

	getCmd = &cobra.Command{
		Use:   "get SYMBOL",
		Short: "Read a quote, series or currency through every tier",
		Example: paragraph("tiercache get BTC\n" +
			"tiercache get --series 1h ETH\n" +
			"tiercache get --currency USD"),
		Args: cobra.ExactArgs(1),
		RunE: withApp(runGet),
	}

	setCmd = &cobra.Command{
		Use:     "set SYMBOL PRICE",
		Short:   "Store a spot quote",
		Example: paragraph("tiercache set BTC 45000"),
		Args:    cobra.ExactArgs(2),
		RunE:    withApp(runSet),
	}

	deleteCmd = &cobra.Command{
		Use:     "delete KEY",
		Short:   "Remove a key from every tier of a domain",
		Example: paragraph("tiercache delete BTC\ntiercache delete --domain historical BTC@1h"),
		Args:    cobra.ExactArgs(1),
		RunE:    withApp(runDelete),
	}

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "List the keys stored on disk",
		Args:  cobra.NoArgs,
		RunE:  withApp(runKeys),
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Empty the in-process tiers, or everything with --all",
		Args:  cobra.NoArgs,
		RunE:  withApp(runClear),
	}

	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries from disk",
		Args:  cobra.NoArgs,
		RunE:  withApp(runPrune),
	}

	warmCmd = &cobra.Command{
		Use:     "warm SYMBOL...",
		Short:   "Fetch quotes from the remote into the cache",
		Example: paragraph("tiercache warm BTC ETH SOL"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    withApp(runWarm),
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache sizes and hit rates",
		Args:  cobra.NoArgs,
		RunE:  withApp(runStats),
	}
)

func init() {
	getCmd.Flags().StringVar(&getSeries, "series", "", "read the candle series at this interval")
	getCmd.Flags().BoolVar(&getCurrency, "currency", false, "read currency metadata")
	deleteCmd.Flags().StringVar(&delDomain, "domain", lru.DomainPrices, "domain holding the key")
	keysCmd.Flags().StringVar(&keysDomain, "domain", "", "only list this domain")
	clearCmd.Flags().BoolVarP(&clearAll, "all", "a", false, "also delete everything on disk")
	warmCmd.Flags().IntVar(&warmWorkers, "concurrency", cache.DefaultWarmConfig().Concurrency, "parallel fetches")
	warmCmd.Flags().DurationVar(&warmTimeout, "timeout", cache.DefaultWarmConfig().Timeout, "overall timeout")
	statsCmd.Flags().BoolVar(&showMetrics, "metrics", false, "also print the Prometheus counters")
}

// withApp opens the cache stack around a command.
func withApp(run func(context.Context, *cobra.Command, *app, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		runErr := run(ctx, cmd, a, args)
		if err := a.Close(); err != nil && runErr == nil {
			return fmt.Errorf("could not close cache: %w", err)
		}
		return runErr
	}
}

func runGet(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	w := cmd.OutOrStdout()
	key := args[0]

	switch {
	case getCurrency:
		c, err := a.repo.Currency(ctx, key)
		if err != nil {
			return describe(err, key)
		}
		fmt.Fprintf(w, "%s %s (%s), %d decimals %s\n", keyword(c.Code), c.Name, c.Sign, c.Decimals, faint(humanize.Time(c.UpdatedAt)))

	case getSeries != "":
		s, err := a.repo.Series(ctx, key, getSeries)
		if err != nil {
			return describe(err, market.SeriesKey(key, getSeries))
		}
		fmt.Fprintf(w, "%s %s, %d candles %s\n", keyword(s.Symbol), s.Interval, len(s.Candles), faint(humanize.Time(s.UpdatedAt)))
		for _, c := range s.Candles {
			fmt.Fprintf(w, "  %s  o %s  h %s  l %s  c %s\n", c.Time.Format(time.RFC3339),
				humanize.Commaf(c.Open), humanize.Commaf(c.High), humanize.Commaf(c.Low), humanize.Commaf(c.Close))
		}

	default:
		q, err := a.repo.Quote(ctx, key)
		if err != nil {
			return describe(err, key)
		}
		fmt.Fprintf(w, "%s %s %s\n", keyword(q.Symbol), humanize.Commaf(q.Price), faint(humanize.Time(q.UpdatedAt)))
	}
	return nil
}

func runSet(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	price, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", args[1], err)
	}

	q := market.Quote{Symbol: args[0], Price: price, UpdatedAt: time.Now()}
	if q.IsEmpty() {
		return errors.New("refusing to store an empty quote")
	}
	if err := a.repo.StoreQuote(ctx, q); err != nil {
		return fmt.Errorf("could not store quote: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s at %s\n", keyword(strings.ToUpper(q.Symbol)), humanize.Commaf(price))
	return nil
}

func runDelete(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	if err := a.repo.Delete(ctx, delDomain, args[0]); err != nil {
		return describe(err, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", keyword(args[0]), delDomain)
	return nil
}

func runKeys(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
	w := cmd.OutOrStdout()

	domains := a.repo.Domains()
	if keysDomain != "" {
		domains = []string{keysDomain}
	}
	for _, d := range domains {
		keys, err := a.repo.Keys(ctx, d)
		if err != nil {
			return err //nolint:wrapcheck
		}
		fmt.Fprintln(w, header(d), faint(fmt.Sprintf("(%d)", len(keys))))
		for _, k := range keys {
			fmt.Fprintln(w, "  "+k)
		}
	}
	return nil
}

func runClear(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
	a.repo.Clear(clearAll)
	if clearAll {
		fmt.Fprintln(cmd.OutOrStdout(), danger("Cleared every tier, including disk."))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cleared in-process tiers. Use --all to delete disk entries.")
	return nil
}

func runPrune(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
	n, err := a.repo.Purge(ctx)
	if err != nil {
		return fmt.Errorf("could not prune: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s expired %s\n", keyword(humanize.Comma(int64(n))), plural(n, "entry", "entries"))
	return nil
}

func runWarm(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	w := cmd.OutOrStdout()

	res := a.repo.WarmQuotes(ctx, args, cache.WarmConfig{Timeout: warmTimeout, Concurrency: warmWorkers})
	sort.Slice(res.Results, func(i, j int) bool { return res.Results[i].Key < res.Results[j].Key })

	for _, r := range res.Results {
		if r.Err != nil {
			fmt.Fprintf(w, "  %s %s\n", danger(r.Key), faint(r.Err.Error()))
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", keyword(r.Key), faint(r.Duration.Round(time.Millisecond).String()))
	}
	fmt.Fprintf(w, "Warmed %d of %d in %s\n", len(res.Results)-res.Errors, len(args), res.TotalTime.Round(time.Millisecond))
	if res.HasErrors() {
		return fmt.Errorf("%d %s failed", res.Errors, plural(res.Errors, "symbol", "symbols"))
	}
	return nil
}

func runStats(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
	w := cmd.OutOrStdout()

	widths := []int{12, 10, 10, 10, 10}
	fmt.Fprintln(w, header(row(widths, "DOMAIN", "ENTRIES", "SIZE", "LRU", "HIT RATE")))
	for _, s := range a.repo.Stats() {
		fmt.Fprintln(w, row(widths,
			s.Name,
			humanize.Comma(int64(s.Entries)),
			humanize.IBytes(uint64(s.Bytes)), //nolint:gosec
			fmt.Sprintf("%d/%d", s.LRU.Size, s.LRU.MaxSize),
			fmt.Sprintf("%.1f%%", s.LRU.HitRate*100),
		))
	}
	fmt.Fprintln(w, faint("cache dir: "+cfg.Dir))

	if !showMetrics {
		return nil
	}

	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("could not gather metrics: %w", err)
	}
	fmt.Fprintln(w)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+strconv.Quote(l.GetValue()))
			}
			value := m.GetGauge().GetValue()
			if m.GetCounter() != nil {
				value = m.GetCounter().GetValue()
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}

// describe turns cache sentinels into user-facing errors.
func describe(err error, key string) error {
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return fmt.Errorf("%s is not cached", key)
	case errors.Is(err, cache.ErrExpired):
		return fmt.Errorf("%s has expired", key)
	case errors.Is(err, market.ErrUnknownDomain):
		return fmt.Errorf("%w (known: %s)", err, strings.Join([]string{lru.DomainCurrency, lru.DomainHistorical, lru.DomainPrices}, ", "))
	default:
		return err
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
