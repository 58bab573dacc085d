package queue_test

import (
	"testing"
	"time"

	"github.com/crjfisher/bergamot/internal/queue"
	"github.com/crjfisher/bergamot/pkg/models"
)

func TestEnqueue_Backpressure(t *testing.T) {
	q := queue.New(2)

	pos1, err := q.Enqueue(models.Visit{ID: "a"})
	if err != nil {
		t.Fatalf("Enqueue(a) error = %v", err)
	}
	if pos1 != 1 {
		t.Errorf("position = %d, want 1", pos1)
	}

	pos2, err := q.Enqueue(models.Visit{ID: "b"})
	if err != nil {
		t.Fatalf("Enqueue(b) error = %v", err)
	}
	if pos2 != 2 {
		t.Errorf("position = %d, want 2", pos2)
	}

	_, err = q.Enqueue(models.Visit{ID: "c"})
	if err != queue.ErrFull {
		t.Errorf("Enqueue(c) error = %v, want ErrFull", err)
	}
}

func TestDequeueOrder(t *testing.T) {
	q := queue.New(4)
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if _, err := q.Enqueue(models.Visit{ID: id}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	for _, want := range ids {
		select {
		case v := <-q.C():
			q.Dequeued()
			if v.ID != want {
				t.Errorf("dequeued ID = %q, want %q", v.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for visit")
		}
	}

	if d := q.Depth(); d != 0 {
		t.Errorf("Depth() = %d, want 0", d)
	}
	if total := q.TotalSeen(); total != 3 {
		t.Errorf("TotalSeen() = %d, want 3", total)
	}
}
