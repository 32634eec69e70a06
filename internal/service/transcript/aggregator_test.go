package transcript

import (
	"sync"
	"testing"
)

func TestAggregator_DropsDuplicateAndOutOfOrder(t *testing.T) {
	a := NewAggregator()

	var accepted []uint64
	for _, seq := range []uint64{1, 2, 2, 4, 3} {
		if a.Offer(Result{Text: "x", IsFinal: true, Sequence: seq}) {
			accepted = append(accepted, seq)
		}
	}

	want := []uint64{1, 2, 4}
	finals := a.Finals()
	if len(finals) != len(want) {
		t.Fatalf("expected %d finals, got %d", len(want), len(finals))
	}
	for i, seq := range want {
		if finals[i].Sequence != seq {
			t.Errorf("final %d: expected seq %d, got %d", i, seq, finals[i].Sequence)
		}
		if accepted[i] != seq {
			t.Errorf("accepted %d: expected seq %d, got %d", i, seq, accepted[i])
		}
	}
	if a.Last() != 4 {
		t.Errorf("expected last 4, got %d", a.Last())
	}
	if a.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", a.Dropped())
	}
}

func TestAggregator_InterimsNotRetained(t *testing.T) {
	a := NewAggregator()

	tests := []struct {
		result Result
		want   bool
	}{
		{Result{Text: "hel", Sequence: 1}, true},
		{Result{Text: "hello", Sequence: 1}, true},
		{Result{Text: "hello world", IsFinal: true, Sequence: 1}, true},
		// Late interim for an utterance that is already final.
		{Result{Text: "hello wor", Sequence: 1}, false},
		{Result{Text: "how", Sequence: 2}, true},
	}

	for i, tt := range tests {
		if got := a.Offer(tt.result); got != tt.want {
			t.Errorf("offer %d (%q): expected %v, got %v", i, tt.result.Text, tt.want, got)
		}
	}

	if n := len(a.Finals()); n != 1 {
		t.Errorf("expected 1 retained final, got %d", n)
	}
	if a.Last() != 1 {
		t.Errorf("interims must not advance the sequence, got last %d", a.Last())
	}
}

func TestAggregator_Text(t *testing.T) {
	a := NewAggregator()
	a.Offer(Result{Text: " hello world ", IsFinal: true, Sequence: 1})
	a.Offer(Result{Text: "", IsFinal: true, Sequence: 2})
	a.Offer(Result{Text: "how are you", IsFinal: true, Sequence: 3})

	if got := a.Text(); got != "hello world how are you" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestAggregator_FinalsIsCopy(t *testing.T) {
	a := NewAggregator()
	a.Offer(Result{Text: "one", IsFinal: true, Sequence: 1})

	finals := a.Finals()
	finals[0].Text = "mutated"

	if a.Finals()[0].Text != "one" {
		t.Error("Finals must return a copy")
	}
}

func TestAggregator_ConcurrentOffers(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			a.Offer(Result{IsFinal: true, Sequence: seq})
		}(uint64(i))
	}
	wg.Wait()

	finals := a.Finals()
	for i := 1; i < len(finals); i++ {
		if finals[i].Sequence <= finals[i-1].Sequence {
			t.Fatalf("finals not strictly increasing at %d: %d <= %d", i, finals[i].Sequence, finals[i-1].Sequence)
		}
	}
	if a.Last() != finals[len(finals)-1].Sequence {
		t.Errorf("last %d does not match final tail %d", a.Last(), finals[len(finals)-1].Sequence)
	}
}
