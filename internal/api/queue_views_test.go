package api

import "testing"

func TestSortQueueItemsNewestFirst(t *testing.T) {
	items := []QueueItem{
		{ID: 1, CreatedAt: "2025-03-04T10:00:00.000Z"},
		{ID: 2, CreatedAt: "2025-03-04T12:00:00.000Z"},
		{ID: 3, CreatedAt: ""},
		{ID: 4, CreatedAt: "2025-03-04T12:00:00.000Z"},
	}

	sorted := SortQueueItemsNewestFirst(items)
	if len(sorted) != 4 {
		t.Fatalf("len(sorted) = %d, want 4", len(sorted))
	}
	if sorted[0].ID != 4 || sorted[1].ID != 2 {
		t.Fatalf("expected newest items with higher ID first, got %d then %d", sorted[0].ID, sorted[1].ID)
	}
	if sorted[3].ID != 3 {
		t.Fatalf("expected item without timestamp last, got %d", sorted[3].ID)
	}
	if items[0].ID != 1 {
		t.Fatal("expected input slice to stay unmodified")
	}
}

func TestParseQueueTime(t *testing.T) {
	if _, ok := ParseQueueTime(""); ok {
		t.Fatal("expected empty value to fail")
	}
	if _, ok := ParseQueueTime("not-a-time"); ok {
		t.Fatal("expected garbage value to fail")
	}
	ts, ok := ParseQueueTime("2025-03-04T10:30:00.000Z")
	if !ok {
		t.Fatal("expected millisecond timestamp to parse")
	}
	if ts.Hour() != 10 || ts.Minute() != 30 {
		t.Fatalf("unexpected parse result: %v", ts)
	}
}
