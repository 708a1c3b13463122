package dashboard

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/qepting91/redditbot/internal/domain"
)

func StartServer(dataFile string, port string) error {
	return http.ListenAndServe(":"+port, NewHandler(dataFile))
}

// NewHandler renders the archive of dispatched items
func NewHandler(dataFile string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		records := loadData(dataFile)

		page := components.NewPage()
		page.PageTitle = "reddit-bot"
		page.AddCharts(kindPie(records), subredditPie(records), keywordBar(records))
		if err := page.Render(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

// 1. What the bot handled
func kindPie(records []domain.Record) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Items by Kind"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	counts := make(map[string]int)
	for _, rec := range records {
		counts[string(rec.Kind)]++
	}
	pie.AddSeries("Items", pieData(counts))
	return pie
}

// 2. Topic Dominance
func subredditPie(records []domain.Record) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Subreddit Dominance"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.Subreddit != "" {
			counts[rec.Subreddit]++
		}
	}
	pie.AddSeries("Items", pieData(counts))
	return pie
}

// 3. Keyword Velocity
func keywordBar(records []domain.Record) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Keyword Velocity"}))

	counts := make(map[string]int)
	for _, rec := range records {
		for _, k := range rec.KeywordsHit {
			counts[k]++
		}
	}

	var barX []string
	var barY []opts.BarData
	for _, k := range sortedKeys(counts) {
		barX = append(barX, k)
		barY = append(barY, opts.BarData{Value: counts[k]})
	}
	bar.SetXAxis(barX).AddSeries("Mentions", barY)
	return bar
}

func pieData(counts map[string]int) []opts.PieData {
	var items []opts.PieData
	for _, k := range sortedKeys(counts) {
		items = append(items, opts.PieData{Name: k, Value: counts[k]})
	}
	return items
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func loadData(path string) []domain.Record {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var records []domain.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec domain.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records
}
