package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"marketdata/internal/config"
	"marketdata/internal/util"
	"marketdata/pkg/marketdata"
)

const dateLayout = "2006-01-02"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: marketdata <command> [flags]

commands:
  fetch    retrieve daily bars for a symbol and date range
  stats    show cache totals
  clear    delete cached rows
  export   write cached bars to parquet files
  status   show provider credential status
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	// Optional .env in the working directory, for MARKETDATA_* overrides.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "fetch":
		err = runFetch(ctx, os.Args[2:])
	case "stats":
		err = runStats(ctx, os.Args[2:])
	case "clear":
		err = runClear(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

// newClient loads configuration and opens the library facade.
func newClient(cfgPath string) (*marketdata.Client, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	// A .env next to the credential files can hold the password variable
	// named by barchart_password_env and MARKETDATA_* overrides.
	if err := godotenv.Load(filepath.Join(cfg.ConfigDir, ".env")); err == nil {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
	}
	logger := util.NewLogger(cfg.LogLevel)
	util.SetDefault(logger)

	return marketdata.NewClient(marketdata.Options{
		ConfigPath: cfgPath,
		Logger:     logger,
	})
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	symbol := fs.String("symbol", "", "ticker symbol (required)")
	start := fs.String("start", "", "start date YYYY-MM-DD (required)")
	end := fs.String("end", "", "end date YYYY-MM-DD (required)")
	prov := fs.String("provider", "auto", "provider: barchart, tiingo, auto")
	refresh := fs.Bool("refresh", false, "bypass the cache and re-fetch the full range")
	fs.Parse(args)

	if *symbol == "" || *start == "" || *end == "" {
		fs.Usage()
		return fmt.Errorf("-symbol, -start, and -end are required")
	}
	startDate, err := time.ParseInLocation(dateLayout, *start, time.UTC)
	if err != nil {
		return fmt.Errorf("bad -start: %w", err)
	}
	endDate, err := time.ParseInLocation(dateLayout, *end, time.UTC)
	if err != nil {
		return fmt.Errorf("bad -end: %w", err)
	}

	c, err := newClient(*cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.GetPrices(ctx, marketdata.PriceRequest{
		Symbol:   *symbol,
		Start:    startDate,
		End:      endDate,
		Provider: marketdata.Provider(*prov),
		Refresh:  *refresh,
	})
	if err != nil {
		return err
	}

	printBars(res)
	return nil
}

func printBars(res *marketdata.Result) {
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Date", "Open", "High", "Low", "Close", "Volume", "AdjClose", "Provider"})
	for _, b := range res.Bars {
		table.Append([]string{
			b.Date.Format(dateLayout),
			fmtFloat(b.Open),
			fmtFloat(b.High),
			fmtFloat(b.Low),
			fmtFloat(b.Close),
			fmtFloat(b.Volume),
			fmtFloat(b.AdjClose),
			string(b.Provider),
		})
	}
	table.Render()

	fmt.Printf("%s  %s bars (%s cached, %s fetched) via %s\n",
		color.CyanString(res.Symbol),
		color.WhiteString("%d", len(res.Bars)),
		color.GreenString("%d", res.FromCache),
		color.YellowString("%d", res.FromAPI),
		color.CyanString(string(res.Provider)),
	)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	c, err := newClient(*cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Rows", "Symbols", "Oldest", "Newest", "Size"})
	oldest, newest := "-", "-"
	if !stats.OldestDate.IsZero() {
		oldest = stats.OldestDate.Format(dateLayout)
		newest = stats.NewestDate.Format(dateLayout)
	}
	table.Append([]string{
		fmt.Sprintf("%d", stats.TotalRows),
		fmt.Sprintf("%d", stats.UniqueSymbols),
		oldest,
		newest,
		fmt.Sprintf("%.1f KiB", float64(stats.FileSizeBytes)/1024),
	})
	table.Render()
	return nil
}

func runClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	symbol := fs.String("symbol", "", "only this symbol (default all)")
	prov := fs.String("provider", "", "only this provider (default all)")
	fs.Parse(args)

	c, err := newClient(*cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Clear(ctx, strings.ToUpper(*symbol), marketdata.Provider(*prov))
	if err != nil {
		return err
	}
	fmt.Printf("deleted %s rows\n", color.YellowString("%d", n))
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	dir := fs.String("dir", "data", "output directory for parquet files")
	symbol := fs.String("symbol", "", "ticker symbol (required)")
	prov := fs.String("provider", "tiingo", "provider whose rows to export")
	start := fs.String("start", "1970-01-01", "start date YYYY-MM-DD")
	end := fs.String("end", time.Now().UTC().Format(dateLayout), "end date YYYY-MM-DD")
	fs.Parse(args)

	if *symbol == "" {
		fs.Usage()
		return fmt.Errorf("-symbol is required")
	}
	startDate, err := time.ParseInLocation(dateLayout, *start, time.UTC)
	if err != nil {
		return fmt.Errorf("bad -start: %w", err)
	}
	endDate, err := time.ParseInLocation(dateLayout, *end, time.UTC)
	if err != nil {
		return fmt.Errorf("bad -end: %w", err)
	}

	c, err := newClient(*cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Export(ctx, *dir, strings.ToUpper(*symbol), marketdata.Provider(*prov), startDate, endDate)
	if err != nil {
		return err
	}
	fmt.Printf("exported %s bars to %s\n", color.GreenString("%d", n), *dir)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	c, err := newClient(*cfgPath)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.ProviderStatus()
	if err != nil {
		return err
	}

	for _, p := range []marketdata.Provider{marketdata.ProviderBarchart, marketdata.ProviderTiingo} {
		if probeErr := status[p]; probeErr != nil {
			fmt.Printf("%-10s %s %v\n", p, color.RedString("not configured:"), probeErr)
		} else {
			fmt.Printf("%-10s %s\n", p, color.GreenString("ok"))
		}
	}
	return nil
}
