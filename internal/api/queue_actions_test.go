package api

import (
	"context"
	"errors"
	"testing"

	"capstan/internal/queue"
)

// queueActionStub serves Describe from a fixed row set and accepts
// mutations one id at a time, the way the batch helpers issue them.
type queueActionStub struct {
	items map[int64]*QueueItem
}

func (s *queueActionStub) Describe(_ context.Context, id int64) (*QueueItem, error) {
	return s.items[id], nil
}

func (s *queueActionStub) Retry(_ context.Context, ids []int64) (int64, error) {
	return s.mutate(ids)
}

func (s *queueActionStub) Stop(_ context.Context, ids []int64) (int64, error) {
	return s.mutate(ids)
}

func (s *queueActionStub) mutate(ids []int64) (int64, error) {
	if len(ids) != 1 {
		return 0, errors.New("expected one id")
	}
	return 1, nil
}

func TestRetryFailedItemsByIDSkipsActiveItems(t *testing.T) {
	stub := &queueActionStub{
		items: map[int64]*QueueItem{
			1: {ID: 1, Status: string(queue.StatusFailed)},
			2: {ID: 2, Status: string(queue.StatusReview)},
			3: {ID: 3, Status: string(queue.StatusBuilding)},
		},
	}

	result, err := RetryFailedItemsByID(context.Background(), stub, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("RetryFailedItemsByID: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("UpdatedCount = %d, want 2", result.UpdatedCount)
	}
	if len(result.Items) != 4 {
		t.Fatalf("len(Items) = %d, want 4", len(result.Items))
	}
	if result.Items[0].Outcome != RetryItemUpdated || result.Items[1].Outcome != RetryItemUpdated {
		t.Fatalf("expected failed and review items to retry, got %s and %s", result.Items[0].Outcome, result.Items[1].Outcome)
	}
	if result.Items[2].Outcome != RetryItemNotRetryable {
		t.Fatalf("item 3 outcome = %s, want %s", result.Items[2].Outcome, RetryItemNotRetryable)
	}
	if result.Items[3].Outcome != RetryItemNotFound {
		t.Fatalf("item 4 outcome = %s, want %s", result.Items[3].Outcome, RetryItemNotFound)
	}
}

func TestStopItemsByIDRecordsPriorStatus(t *testing.T) {
	stub := &queueActionStub{
		items: map[int64]*QueueItem{
			1: {ID: 1, Status: string(queue.StatusBuilding)},
			2: {ID: 2, Status: string(queue.StatusPending)},
			3: {ID: 3, Status: string(queue.StatusPublished)},
			4: {ID: 4, Status: string(queue.StatusReview)},
		},
	}

	result, err := StopItemsByID(context.Background(), stub, []int64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("StopItemsByID: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("UpdatedCount = %d, want 2", result.UpdatedCount)
	}

	if result.Items[0].Outcome != StopItemUpdated || result.Items[0].PriorStatus != string(queue.StatusBuilding) {
		t.Fatalf("item 1 = %+v, want stopped from building", result.Items[0])
	}
	if result.Items[1].Outcome != StopItemUpdated {
		t.Fatalf("item 2 outcome = %s, want %s", result.Items[1].Outcome, StopItemUpdated)
	}
	if result.Items[2].Outcome != StopItemAlreadyPublished {
		t.Fatalf("item 3 outcome = %s, want %s", result.Items[2].Outcome, StopItemAlreadyPublished)
	}
	if result.Items[3].Outcome != StopItemAlreadyStopped {
		t.Fatalf("item 4 outcome = %s, want %s", result.Items[3].Outcome, StopItemAlreadyStopped)
	}
	if result.Items[4].Outcome != StopItemNotFound {
		t.Fatalf("item 5 outcome = %s, want %s", result.Items[4].Outcome, StopItemNotFound)
	}
}
