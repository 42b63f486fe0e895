package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/database"
	"regimeforge-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config.json")
	coin := flag.String("coin", "", "only analyze this coin")
	days := flag.Int("days", 30, "look back this many days (0 for all)")
	limit := flag.Int("limit", 1000, "maximum journal rows to read")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseConfig, logging.Nop())
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	filter := database.JournalFilter{Coin: *coin, Limit: *limit}
	if *days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -*days)
	}
	entries, err := database.NewRepository(db).ListDecisions(ctx, filter)
	if err != nil {
		fmt.Printf("❌ Failed to read journal: %v\n", err)
		os.Exit(1)
	}

	rule := strings.Repeat("=", 80)
	fmt.Println(rule)
	fmt.Println("📊 REGIMEFORGE DECISION JOURNAL ANALYSIS")
	fmt.Println(rule)
	fmt.Printf("   Rows read: %d", len(entries))
	if *days > 0 {
		fmt.Printf(" (last %d days)", *days)
	}
	fmt.Println()

	if len(entries) == 0 {
		fmt.Println("\n❌ No journal entries found")
		return
	}

	summary := database.Summarize(entries)

	printTable("📈 PERFORMANCE BY COIN", "Coin", summary.ByCoin, summary.Total)
	printTable("🧭 PERFORMANCE BY ACTION", "Action", summary.ByAction, summary.Total)
	printTable("🎯 PERFORMANCE BY SIGNAL CONFIDENCE", "Confidence", summary.ByConfidence, summary.Total)

	fmt.Println("\n" + rule)
	fmt.Println("💡 INSIGHTS")
	fmt.Println(rule)

	if summary.Total.Closes == 0 {
		fmt.Println("\n   No closed trades yet")
		return
	}
	if summary.Total.WinRate < 50 {
		fmt.Printf("\n   ⚠️  Overall win rate is %.1f%% - BELOW 50%%\n", summary.Total.WinRate)
		fmt.Println("   → Consider raising min_confidence")
	} else {
		fmt.Printf("\n   ✅ Overall win rate is %.1f%%\n", summary.Total.WinRate)
	}
	for _, g := range summary.ByAction {
		if g.Key == "CLOSE_STOP_LOSS" && g.Closes*2 > summary.Total.Closes {
			fmt.Printf("   ⚠️  %d of %d closes were stop-losses → review stop_loss_pct or leverage\n", g.Closes, summary.Total.Closes)
		}
	}
}

func printTable(title, label string, rows []database.GroupStats, total database.GroupStats) {
	fmt.Println("\n" + title)
	fmt.Println("┌──────────────────────┬─────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬──────────┐")
	fmt.Printf("│ %-20s │ Entries │ Closes │ Winners │ Losers  │ Total PnL    │ Avg PnL      │ Win Rate │\n", label)
	fmt.Println("├──────────────────────┼─────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")
	for _, g := range rows {
		printRow(g)
	}
	fmt.Println("├──────────────────────┼─────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")
	printRow(total)
	fmt.Println("└──────────────────────┴─────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴──────────┘")
}

func printRow(g database.GroupStats) {
	emoji := "🟢"
	if g.TotalPnL < 0 {
		emoji = "🔴"
	}
	fmt.Printf("│ %s %-17s │ %7d │ %6d │ %7d │ %7d │ %+12.2f │ %+12.2f │ %7.1f%% │\n",
		emoji, truncate(g.Key, 17), g.Entries, g.Closes, g.WinningTrades, g.LosingTrades,
		g.TotalPnL, g.AvgPnL, g.WinRate)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
