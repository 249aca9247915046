package engine_test

import (
	"testing"

	"github.com/seantiz/fluxd/internal/engine"
)

func line(s string) engine.LogLine {
	return engine.LogLine{Stream: engine.StreamStdout, Line: s}
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker(8)
	ch, unsub := b.Subscribe()
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for _, l := range lines {
		b.Publish(line(l))
	}
	b.Close()

	var got []string
	for l := range ch {
		got = append(got, l.Line)
	}

	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker(8)
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(line("hello"))
	b.Close()

	var got1, got2 []string
	for l := range ch1 {
		got1 = append(got1, l.Line)
	}
	for l := range ch2 {
		got2 = append(got2, l.Line)
	}

	if len(got1) != 1 || got1[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got1)
	}
	if len(got2) != 1 || got2[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got2)
	}
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker(8)
	b.Publish(line("early"))
	b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker(8)
	ch, unsub := b.Subscribe()
	unsub()

	b.Publish(line("after unsub"))

	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got unexpected line %q after unsubscribe", l.Line)
		}
	default:
	}
}

func TestLogBrokerCloseIsIdempotent(t *testing.T) {
	b := engine.NewLogBroker(8)
	b.Close()
	b.Close()
	b.Publish(line("ignored"))
	if n := len(b.Recent(0)); n != 0 {
		t.Errorf("Recent after close = %d lines, want 0", n)
	}
}

func TestLogBrokerRecentWrapsRing(t *testing.T) {
	b := engine.NewLogBroker(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		b.Publish(line(l))
	}

	got := b.Recent(0)
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Recent = %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Line != want[i] {
			t.Errorf("Recent[%d] = %q, want %q", i, got[i].Line, want[i])
		}
	}

	last := b.Recent(2)
	if len(last) != 2 || last[0].Line != "d" || last[1].Line != "e" {
		t.Errorf("Recent(2) = %v", last)
	}
}
