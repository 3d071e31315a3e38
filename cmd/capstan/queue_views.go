package main

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"capstan/internal/api"
)

var statusTitleCaser = cases.Title(language.English)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	statuses := slices.Sorted(maps.Keys(stats))

	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{formatStatusLabel(status), fmt.Sprintf("%d", stats[status])})
	}
	return rows
}

func buildQueueListRows(items []api.QueueItem) [][]string {
	if len(items) == 0 {
		return nil
	}
	sorted := slices.Clone(items)

	// Newest first; equal timestamps fall back to descending id.
	slices.SortFunc(sorted, func(a, b api.QueueItem) int {
		ta := parseQueueTime(a.CreatedAt)
		tb := parseQueueTime(b.CreatedAt)
		if ta.Equal(tb) {
			return cmp.Compare(b.ID, a.ID)
		}
		if ta.After(tb) {
			return -1
		}
		return 1
	})

	rows := make([][]string, 0, len(sorted))
	for _, item := range sorted {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			formatReleaseName(item),
			formatStatusLabel(item.Status),
			formatDisplayTime(item.CreatedAt),
			formatRequester(item.Requester),
		})
	}
	return rows
}

func formatReleaseName(item api.QueueItem) string {
	pkg := strings.TrimSpace(item.Package)
	version := strings.TrimSpace(item.Version)
	switch {
	case pkg != "" && version != "":
		return pkg + " v" + version
	case pkg != "":
		return pkg
	case strings.TrimSpace(item.TriggerScope) != "":
		return strings.TrimSpace(item.TriggerScope)
	default:
		return "Unknown"
	}
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return statusTitleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, ok := parseAnyQueueTime(value); ok {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseQueueTime(value string) time.Time {
	t, _ := parseAnyQueueTime(value)
	return t
}

func parseAnyQueueTime(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatRequester(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
