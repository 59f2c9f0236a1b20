package stream

import (
	"context"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, em *Emitter) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-em.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(events))
		}
	}
}

func TestSimulateEmitsCumulativePrefixes(t *testing.T) {
	text := "the quick brown fox"
	words := strings.Fields(text)

	em := NewEmitter(16)
	go func() {
		if err := em.Simulate(context.Background(), text, time.Millisecond); err != nil {
			t.Errorf("Simulate failed: %v", err)
		}
	}()

	events := collect(t, em)
	if len(events) != len(words)+1 {
		t.Fatalf("expected %d events, got %d", len(words)+1, len(events))
	}
	for i := 0; i < len(words); i++ {
		want := strings.Join(words[:i+1], " ")
		if events[i].Done {
			t.Fatalf("event %d unexpectedly final", i)
		}
		if events[i].Content != want {
			t.Fatalf("event %d content = %q, want %q", i, events[i].Content, want)
		}
	}
	final := events[len(events)-1]
	if !final.Done {
		t.Fatalf("last event is not final")
	}
	if final.Content != text {
		t.Fatalf("final content = %q, want %q", final.Content, text)
	}
	if em.State() != StateDone {
		t.Fatalf("state = %v, want StateDone", em.State())
	}
}

func TestSimulateEmptyTextEmitsOnlyFinal(t *testing.T) {
	em := NewEmitter(1)
	go em.Simulate(context.Background(), "", time.Millisecond)

	events := collect(t, em)
	if len(events) != 1 || !events[0].Done {
		t.Fatalf("expected a single final event, got %+v", events)
	}
}

func TestSimulateCancellationStopsProduction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	em := NewEmitter(0)

	done := make(chan error, 1)
	go func() {
		done <- em.Simulate(ctx, "one two three four five", 50*time.Millisecond)
	}()

	// 消费前两个事件后取消
	for i := 0; i < 2; i++ {
		select {
		case ev := <-em.Events():
			if ev.Done {
				t.Fatalf("unexpected final event at %d", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("Simulate returned %v, want context.Canceled", err)
	}
	// 取消后不再有任何事件，通道关闭
	for ev := range em.Events() {
		t.Fatalf("event emitted after cancellation: %+v", ev)
	}
	if em.Err() != context.Canceled {
		t.Fatalf("Err() = %v, want context.Canceled", em.Err())
	}
}

func TestPassThroughForwardsChunksThenFinal(t *testing.T) {
	em := NewEmitter(8)
	chunks := []string{"Zero", "Trace ", "wipes", " drives"}

	go func() {
		ctx := context.Background()
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString(c)
			if err := em.Send(ctx, c); err != nil {
				t.Errorf("Send failed: %v", err)
				return
			}
		}
		if err := em.Finish(ctx, b.String()); err != nil {
			t.Errorf("Finish failed: %v", err)
		}
	}()

	events := collect(t, em)
	if len(events) != len(chunks)+1 {
		t.Fatalf("expected %d events, got %d", len(chunks)+1, len(events))
	}
	for i, c := range chunks {
		if events[i].Content != c || events[i].Done {
			t.Fatalf("event %d = %+v, want chunk %q", i, events[i], c)
		}
	}
	final := events[len(events)-1]
	if !final.Done || final.Content != "ZeroTrace wipes drives" {
		t.Fatalf("unexpected final event: %+v", final)
	}
}

func TestNoEventsAfterDone(t *testing.T) {
	em := NewEmitter(4)
	ctx := context.Background()

	if err := em.Finish(ctx, "done"); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := em.Send(ctx, "late"); err != ErrDone {
		t.Fatalf("Send after Finish returned %v, want ErrDone", err)
	}
	if err := em.Finish(ctx, "again"); err != ErrDone {
		t.Fatalf("second Finish returned %v, want ErrDone", err)
	}
}

func TestFailClosesWithoutFinalEvent(t *testing.T) {
	em := NewEmitter(4)
	ctx := context.Background()

	if err := em.Send(ctx, "partial"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	em.Fail(context.DeadlineExceeded)

	events := collect(t, em)
	if len(events) != 1 || events[0].Done {
		t.Fatalf("expected the single non-final event, got %+v", events)
	}
	if em.Err() != context.DeadlineExceeded {
		t.Fatalf("Err() = %v", em.Err())
	}
}
