package logging

import "strings"

// FormatSubject renders the "Delivery · Release #12 (publish)" prefix
// console output uses in place of raw lane/item/stage attributes.
func FormatSubject(lane, itemID, stage string) string {
	lane = strings.TrimSpace(lane)
	itemID = strings.TrimSpace(itemID)
	stage = strings.TrimSpace(stage)

	parts := make([]string, 0, 2)
	if lane != "" {
		parts = append(parts, titleWord(lane))
	}
	switch {
	case itemID != "" && stage != "":
		parts = append(parts, "Release #"+itemID+" ("+stage+")")
	case itemID != "":
		parts = append(parts, "Release #"+itemID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}

func titleWord(s string) string {
	if len(s) < 2 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
