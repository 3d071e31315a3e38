package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"capstan/internal/queue"
)

type stubQueueReader struct {
	items    []*queue.Item
	stats    map[queue.Status]int
	itemErr  error
	statsErr error
}

func (s *stubQueueReader) List(context.Context, ...queue.Status) ([]*queue.Item, error) {
	return s.items, s.itemErr
}

func (s *stubQueueReader) Stats(context.Context) (map[queue.Status]int, error) {
	return s.stats, s.statsErr
}

func (s *stubQueueReader) GetByID(_ context.Context, id int64) (*queue.Item, error) {
	if s.itemErr != nil {
		return nil, s.itemErr
	}
	for _, item := range s.items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, nil
}

func TestQueueServiceListRendersDTOs(t *testing.T) {
	now := time.Date(2026, time.January, 9, 8, 0, 0, 0, time.UTC)
	svc := NewQueueService(&stubQueueReader{items: []*queue.Item{{
		ID:        1,
		Package:   "widget-kit",
		Version:   "1.4.0",
		Channel:   "stable",
		Status:    queue.StatusPending,
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
	}}})

	got, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List returned %d items, want 1", len(got))
	}
	dto := got[0]
	if dto.Package != "widget-kit" || dto.Version != "1.4.0" {
		t.Fatalf("identity = %q %q", dto.Package, dto.Version)
	}
	if dto.Status != string(queue.StatusPending) {
		t.Fatalf("status = %q", dto.Status)
	}
	if dto.ProcessingLane != string(queue.LaneIntake) {
		t.Fatalf("lane = %q, want %q", dto.ProcessingLane, queue.LaneIntake)
	}
	if dto.CreatedAt == "" || dto.UpdatedAt == "" {
		t.Fatal("expected formatted timestamps")
	}
}

func TestQueueServiceListPropagatesReaderError(t *testing.T) {
	sentinel := errors.New("boom")
	svc := NewQueueService(&stubQueueReader{itemErr: sentinel})
	if _, err := svc.List(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("List error = %v, want %v", err, sentinel)
	}
}

func TestQueueServiceStatsKeysByStatusString(t *testing.T) {
	svc := NewQueueService(&stubQueueReader{stats: map[queue.Status]int{
		queue.StatusPending: 2,
		queue.StatusFailed:  1,
	}})

	got, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := map[string]int{"pending": 2, "failed": 1}
	for key, count := range want {
		if got[key] != count {
			t.Fatalf("stats[%q] = %d, want %d", key, got[key], count)
		}
	}
}

func TestQueueServiceDescribe(t *testing.T) {
	svc := NewQueueService(&stubQueueReader{items: []*queue.Item{{ID: 7, Package: "widget-kit"}}})

	t.Run("found", func(t *testing.T) {
		item, err := svc.Describe(context.Background(), 7)
		if err != nil {
			t.Fatalf("Describe: %v", err)
		}
		if item == nil || item.ID != 7 {
			t.Fatalf("Describe = %+v, want id 7", item)
		}
	})

	t.Run("missing id is nil without error", func(t *testing.T) {
		item, err := svc.Describe(context.Background(), 99)
		if err != nil {
			t.Fatalf("Describe: %v", err)
		}
		if item != nil {
			t.Fatalf("Describe = %+v, want nil", item)
		}
	})
}

func TestQueueServiceNilReaderYieldsEmptyResults(t *testing.T) {
	svc := NewQueueService(nil)

	items, err := svc.List(context.Background())
	if err != nil || items != nil {
		t.Fatalf("List = %v, %v; want nil, nil", items, err)
	}
	stats, err := svc.Stats(context.Background())
	if err != nil || stats != nil {
		t.Fatalf("Stats = %v, %v; want nil, nil", stats, err)
	}
	item, err := svc.Describe(context.Background(), 1)
	if err != nil || item != nil {
		t.Fatalf("Describe = %v, %v; want nil, nil", item, err)
	}
}
