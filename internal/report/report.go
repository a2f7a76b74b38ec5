package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/logging"
)

// Summary aggregates deployment journal records.
type Summary struct {
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Prerequisite  int            `json:"prerequisite"`
	FilesWritten  int            `json:"files_written"`
	FilesRemoved  int            `json:"files_removed"`
	Diagnostics   int            `json:"diagnostics"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	TopFailedStep []CountItem    `json:"top_failed_steps"`
	TopApps       []CountItem    `json:"top_apps"`
	TopServers    []CountItem    `json:"top_servers"`
	Latency       LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Reader struct {
	Since   time.Time
	AppUUID string
}

func (r *Reader) Read(path string) ([]logging.Deployment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []logging.Deployment
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d logging.Deployment
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, err
		}
		if !r.Since.IsZero() && d.Timestamp.Before(r.Since) {
			continue
		}
		if r.AppUUID != "" && d.AppUUID != r.AppUUID {
			continue
		}
		records = append(records, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func Summarize(records []logging.Deployment) Summary {
	var summary Summary
	if len(records) == 0 {
		return summary
	}

	summary.Start = records[0].Timestamp
	summary.End = records[0].Timestamp

	stepCounts := map[string]int{}
	appCounts := map[string]int{}
	serverCounts := map[string]int{}
	latencies := make([]int64, 0, len(records))

	for _, d := range records {
		summary.Total++
		if d.Timestamp.Before(summary.Start) {
			summary.Start = d.Timestamp
		}
		if d.Timestamp.After(summary.End) {
			summary.End = d.Timestamp
		}

		switch d.Outcome {
		case logging.OutcomeSuccess:
			summary.Succeeded++
		case logging.OutcomeFailed:
			summary.Failed++
		case logging.OutcomePrerequisite:
			summary.Prerequisite++
		}

		if d.FailedStep != "" {
			stepCounts[d.FailedStep]++
		}
		appCounts[d.AppUUID]++
		serverCounts[d.Server]++

		summary.FilesWritten += len(d.Written)
		summary.FilesRemoved += len(d.Removed)
		summary.Diagnostics += d.Diagnostics
		latencies = append(latencies, d.DurationMS)
	}

	summary.TopFailedStep = topCounts(stepCounts, 5)
	summary.TopApps = topCounts(appCounts, 5)
	summary.TopServers = topCounts(serverCounts, 5)
	summary.Latency = latencySummary(latencies)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deployments: %d\n", summary.Total)
	fmt.Fprintf(&b, "Succeeded: %d\n", summary.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "Prerequisites missing: %d\n", summary.Prerequisite)
	fmt.Fprintf(&b, "Files written/removed: %d/%d\n", summary.FilesWritten, summary.FilesRemoved)
	fmt.Fprintf(&b, "Skipped conditions: %d\n", summary.Diagnostics)
	fmt.Fprintf(&b, "Duration p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Top failed steps", summary.TopFailedStep)
	writeCounts(&b, "Top applications", summary.TopApps)
	writeCounts(&b, "Top servers", summary.TopServers)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Sentinel Deployment Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Deployments: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Succeeded: %d\n", summary.Succeeded)
	fmt.Fprintf(&b, "- Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "- Prerequisites missing: %d\n", summary.Prerequisite)
	fmt.Fprintf(&b, "- Files written/removed: %d/%d\n", summary.FilesWritten, summary.FilesRemoved)
	fmt.Fprintf(&b, "- Skipped conditions: %d\n", summary.Diagnostics)
	fmt.Fprintf(&b, "- Duration p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Top failed steps", summary.TopFailedStep)
	writeCountsMarkdown(&b, "Top applications", summary.TopApps)
	writeCountsMarkdown(&b, "Top servers", summary.TopServers)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
