package main

import (
	"context"
	"fmt"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/financevibe/fdv/internal/collector"
	"github.com/financevibe/fdv/internal/config"
	"github.com/financevibe/fdv/internal/enrich"
	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/storage"
)

var stockCode = regexp.MustCompile(`^[0-9]{6}$`)

// --- entities ---

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Manage tracked companies",
}

var entitiesAddCmd = &cobra.Command{
	Use:   "add <code> <name>",
	Short: "Add or update a tracked company",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, name := args[0], args[1]
		if !stockCode.MatchString(code) {
			return fmt.Errorf("invalid stock code %q: want six digits", code)
		}
		market, _ := cmd.Flags().GetString("market")
		sector, _ := cmd.Flags().GetString("sector")
		corpCode, _ := cmd.Flags().GetString("corp-code")
		if market != "KOSPI" && market != "KOSDAQ" {
			return fmt.Errorf("invalid market %q: want KOSPI or KOSDAQ", market)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		e := storage.Entity{ID: code, Name: name, Market: market, Sector: sector, CorpCode: corpCode}
		if err := a.store.UpsertEntity(e); err != nil {
			return fmt.Errorf("saving entity: %w", err)
		}
		printSuccess("Tracking %s %s (%s)", code, name, market)
		return nil
	},
}

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		entities, err := a.store.ListEntities(market)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No entities tracked. Run fdv entities seed to add the default list.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tNAME\tMARKET\tSECTOR\tCORP CODE")
		for _, e := range entities {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Market, e.Sector, e.CorpCode)
		}
		return tw.Flush()
	},
}

var entitiesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Add the default watch list",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolve, _ := cmd.Flags().GetBool("resolve-corp-codes")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		var corpCodes map[string]string
		if resolve {
			if a.dart == nil {
				return errNoDartKey
			}
			printStep("Downloading corp code list...")
			if corpCodes, err = a.dart.CorpCodes(cmd.Context()); err != nil {
				return fmt.Errorf("resolving corp codes: %w", err)
			}
		}

		missing := 0
		for _, e := range seedEntities {
			e.CorpCode = corpCodes[e.ID]
			if resolve && e.CorpCode == "" {
				missing++
				printWarning("no corp code for %s %s", e.ID, e.Name)
			}
			if err := a.store.UpsertEntity(e); err != nil {
				return fmt.Errorf("saving %s: %w", e.ID, err)
			}
		}
		printSuccess("Seeded %d entities", len(seedEntities))
		if missing > 0 {
			printWarning("%d entities have no corp code; disclosure collection will skip them", missing)
		}
		return nil
	},
}

func init() {
	entitiesAddCmd.Flags().String("market", "KOSPI", "listing board (KOSPI or KOSDAQ)")
	entitiesAddCmd.Flags().String("sector", "", "sector label")
	entitiesAddCmd.Flags().String("corp-code", "", "eight-digit disclosure registry code")
	entitiesListCmd.Flags().String("market", "", "only list this board")
	entitiesSeedCmd.Flags().Bool("resolve-corp-codes", false, "look up disclosure registry codes")
	entitiesCmd.AddCommand(entitiesAddCmd)
	entitiesCmd.AddCommand(entitiesListCmd)
	entitiesCmd.AddCommand(entitiesSeedCmd)
}

// --- collect ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a collection cycle",
	Long: `Run a collection cycle over the given entity codes, or every tracked
entity when none are given.

Examples:
  fdv collect prices
  fdv collect prices 005930 000660
  fdv collect news --market KOSDAQ
  fdv collect disclosures --days 90 --years 2023,2024`,
}

var collectPricesCmd = &cobra.Command{
	Use:   "prices [code...]",
	Short: "Collect daily prices for entities that are not fresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(cmd, args, func(ctx context.Context, a *app, entities []storage.Entity, day freshness.Date) (collector.Summary, error) {
			return a.priceCollector().Run(ctx, entities, day)
		})
	},
}

var collectNewsCmd = &cobra.Command{
	Use:   "news [code...]",
	Short: "Collect recent news articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(cmd, args, func(ctx context.Context, a *app, entities []storage.Entity, day freshness.Date) (collector.Summary, error) {
			c, err := a.newsCollector()
			if err != nil {
				return collector.Summary{}, err
			}
			return c.Run(ctx, entities, day)
		})
	},
}

var collectDisclosuresCmd = &cobra.Command{
	Use:   "disclosures [code...]",
	Short: "Collect filings and annual financial statements",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(cmd, args, func(ctx context.Context, a *app, entities []storage.Entity, day freshness.Date) (collector.Summary, error) {
			from, to, err := dateRange(cmd, day)
			if err != nil {
				return collector.Summary{}, err
			}
			years, _ := cmd.Flags().GetStringSlice("years")
			if len(years) == 0 {
				years = []string{strconv.Itoa(day.Year - 1)}
			}
			c, err := a.disclosureCollector(years)
			if err != nil {
				return collector.Summary{}, err
			}
			return c.Run(ctx, entities, from, to)
		})
	},
}

type collectFunc func(ctx context.Context, a *app, entities []storage.Entity, day freshness.Date) (collector.Summary, error)

// runCollect resolves the entities and reference day shared by every collect
// subcommand, runs fn, and prints its summary.
func runCollect(cmd *cobra.Command, args []string, fn collectFunc) error {
	day, err := todayFlag(cmd)
	if err != nil {
		return err
	}
	market, _ := cmd.Flags().GetString("market")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	entities, err := a.entities(args, market)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		printWarning("No entities to collect. Run fdv entities seed first.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Collecting %s for %d entities as of %s", cmd.Name(), len(entities), day)
	sum, err := fn(ctx, a, entities, day)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), sum)
	}
	printSummary(cmd.OutOrStdout(), sum)
	if sum.Failed > 0 {
		printWarning("%d entities failed; rerun to retry them", sum.Failed)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{collectPricesCmd, collectNewsCmd, collectDisclosuresCmd} {
		c.Flags().String("market", "", "only collect entities on this board")
		c.Flags().String("today", "", "reference day as YYYY-MM-DD (default: today in Seoul)")
		c.Flags().Bool("json", false, "print the summary as JSON")
		collectCmd.AddCommand(c)
	}
	collectDisclosuresCmd.Flags().Int("days", 30, "trailing days of filings to list")
	collectDisclosuresCmd.Flags().String("from", "", "first receipt day (overrides --days)")
	collectDisclosuresCmd.Flags().String("to", "", "last receipt day (default: the reference day)")
	collectDisclosuresCmd.Flags().StringSlice("years", nil, "business years of annual statements (default: last year)")
}

// --- repair ---

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Refetch stored data and overwrite rows that changed upstream",
}

var repairPricesCmd = &cobra.Command{
	Use:   "prices <code...>",
	Short: "Refetch a date range of prices and replace differing rows",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := todayFlag(cmd)
		if err != nil {
			return err
		}
		from, to, err := dateRange(cmd, day)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		entities, err := a.entities(args, "")
		if err != nil {
			return err
		}

		pc := a.priceCollector()
		failed := 0
		for _, e := range entities {
			printStep("Repairing %s %s from %s to %s", e.ID, e.Name, from, to)
			rep, err := pc.RepairPrices(cmd.Context(), e, from, to)
			if err != nil {
				failed++
				printError("%s: %v", e.ID, err)
				continue
			}
			printReport(cmd.OutOrStdout(), e.ID, rep)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d repairs failed", failed, len(entities))
		}
		return nil
	},
}

func init() {
	repairPricesCmd.Flags().Int("days", 7, "trailing days to refetch")
	repairPricesCmd.Flags().String("from", "", "first day to refetch (overrides --days)")
	repairPricesCmd.Flags().String("to", "", "last day to refetch (default: the reference day)")
	repairPricesCmd.Flags().String("today", "", "reference day as YYYY-MM-DD (default: today in Seoul)")
	repairCmd.AddCommand(repairPricesCmd)
}

func todayFlag(cmd *cobra.Command) (freshness.Date, error) {
	s, _ := cmd.Flags().GetString("today")
	return today(s)
}

// dateRange reads --from/--to, falling back to the trailing --days ending on
// day.
func dateRange(cmd *cobra.Command, day freshness.Date) (freshness.Date, freshness.Date, error) {
	days, _ := cmd.Flags().GetInt("days")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	from, to := collector.RepairRange(day, days)
	var err error
	if toStr != "" {
		if to, err = freshness.ParseDate(toStr); err != nil {
			return freshness.Date{}, freshness.Date{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if fromStr != "" {
		if from, err = freshness.ParseDate(fromStr); err != nil {
			return freshness.Date{}, freshness.Date{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to.Before(from) {
		return freshness.Date{}, freshness.Date{}, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return from, to, nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection progress, queued enrichment and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := todayFlag(cmd)
		if err != nil {
			return err
		}
		runLimit, _ := cmd.Flags().GetInt("runs")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()
		out := cmd.OutOrStdout()

		entities, err := a.store.ListEntities("")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, colorize(colorBold, "Entities"))
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  CODE\tNAME\tLAST OBSERVED\tNEXT")
		for _, e := range entities {
			last := "-"
			if m, err := a.store.GetCollectionMetadata(e.ID); err == nil && m.LastObservedDate != nil {
				last = m.LastObservedDate.Format(time.DateOnly)
			}
			next := "-"
			if r, err := a.gate.Check(e.ID, day); err == nil {
				next = r.Reason
				if r.ShouldFetch {
					next = fmt.Sprintf("%s (%s..%s)", r.Reason, r.Start, r.End)
				}
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.ID, e.Name, last, next)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		counts, err := a.store.JobCounts(storage.JobNewsSentiment)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, colorize(colorBold, "Sentiment jobs"))
		for _, st := range []string{"pending", "running", "completed", "failed"} {
			printStatus(out, st, "%d", counts[st])
		}

		runs, err := a.store.ListRuns("", runLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, colorize(colorBold, "Recent runs"))
		if len(runs) == 0 {
			fmt.Fprintln(out, "  none")
		}
		for _, r := range runs {
			fmt.Fprintf(out, "  %s  %-11s processed=%d succeeded=%d fresh=%d failed=%d rejected=%d limited=%d\n",
				r.StartedAt.Local().Format(time.DateTime), r.Kind,
				r.Processed, r.Succeeded, r.SkippedFresh, r.Failed, r.Rejected, r.RateLimited)
		}

		printStatus(out, "Server", "%s", serverState(cmd.Context(), a.cfg))
		printStatus(out, "Data dir", "%s", a.cfg.Storage.DataDir)
		return nil
	},
}

func serverState(ctx context.Context, cfg config.Config) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := newAPIClient(cfg).get(ctx, "/health")
	if err != nil {
		return "stopped"
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &health); err != nil {
		return fmt.Sprintf("error (%v)", err)
	}
	return fmt.Sprintf("%s on port %d", health.Status, cfg.Server.Port)
}

func init() {
	statusCmd.Flags().String("today", "", "reference day as YYYY-MM-DD (default: today in Seoul)")
	statusCmd.Flags().Int("runs", 5, "number of recent runs to show")
}

// --- enrich ---

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Score queued news articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if n, err := a.store.RequeueRunningJobs([]string{storage.JobNewsSentiment}); err != nil {
			return err
		} else if n > 0 {
			printWarning("Requeued %d interrupted jobs", n)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := enrich.NewWorker(a.store, nil, a.cfg.Enrich.PollInterval)
		if once {
			n, err := w.Drain(ctx)
			if err != nil {
				return err
			}
			printSuccess("Processed %d jobs", n)
			return nil
		}
		printStep("Scoring articles until interrupted...")
		w.Run(ctx)
		return nil
	},
}

func init() {
	enrichCmd.Flags().Bool("once", false, "process queued jobs and exit")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(tw, "  %s\t= %s\t%s\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return tw.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.SetKey(cfg, key, value); err != nil {
			return err
		}

		if isSecretKey(key) {
			printSuccess("Set %s", key)
		} else {
			printSuccess("Set %s = %s", key, value)
		}
		return nil
	},
}

// loadConfig is config.Load; tests swap it for a fixed configuration.
var loadConfig = config.Load

func isSecretKey(key string) bool {
	for _, k := range config.ShowAll(config.Config{}) {
		if k.Key == key {
			return k.Secret
		}
	}
	return false
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.Long = "Keys:\n  " + strings.Join(config.ValidKeys(), "\n  ")
}
