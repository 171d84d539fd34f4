package cmd

import (
	"encoding/json"
	"flag"
	"os"
	"sort"
	"strconv"

	"grimm.is/humangym/internal/brand"
	"grimm.is/humangym/internal/registry"
)

// RunCounters prints the persisted trial rotation counters.
func RunCounters(args []string) error {
	flags := flag.NewFlagSet("counters", flag.ExitOnError)
	db := flags.String("db", brand.GetCounterPath(), "Counter database")
	asJSON := flags.Bool("json", false, "Print JSON")
	flags.Parse(args)

	if _, err := os.Stat(*db); err != nil {
		return err
	}
	store, err := openCounterStore(*db)
	if err != nil {
		return err
	}
	defer store.Close()

	counters, err := registry.ReadCounters(store)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(counters)
	}
	Printer.Println(StyleTitle.Render("Trial rotation counters"))
	Printer.Println(formatCounters(counters))
	return nil
}

// formatCounters renders one row per trial type, sorted, then the total.
func formatCounters(counters map[string]int) string {
	types := make([]string, 0, len(counters))
	for k := range counters {
		if k != registry.TotalKey {
			types = append(types, k)
		}
	}
	sort.Strings(types)

	rows := make([][]string, 0, len(types)+1)
	for _, t := range types {
		rows = append(rows, []string{t, strconv.Itoa(counters[t])})
	}
	rows = append(rows, []string{registry.TotalKey, strconv.Itoa(counters[registry.TotalKey])})
	return renderTable([]string{"TRIAL TYPE", "SESSIONS"}, rows, true)
}
