package domain

import "testing"

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		events []EventType
		want   TargetStatus
	}{
		{"nothing", nil, TargetPending},
		{"bounced only", []EventType{EventBounced}, TargetPending},
		{"sent", []EventType{EventSent}, TargetSent},
		{"sent opened", []EventType{EventSent, EventOpened}, TargetOpened},
		{"out of order click then open", []EventType{EventSent, EventClicked, EventOpened}, TargetClicked},
		{"click without open", []EventType{EventSent, EventClicked}, TargetClicked},
		{"open without send", []EventType{EventOpened}, TargetPending},
		{"click without send", []EventType{EventClicked}, TargetPending},
		{"submit without send", []EventType{EventSubmitted}, TargetSubmitted},
		{"everything", []EventType{EventSent, EventOpened, EventClicked, EventSubmitted}, TargetSubmitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(NewEventSet(tt.events...)); got != tt.want {
				t.Errorf("DeriveStatus(%v) = %s, want %s", tt.events, got, tt.want)
			}
		})
	}
}

func TestDeriveStatusMonotonic(t *testing.T) {
	all := []EventType{EventSent, EventOpened, EventClicked, EventSubmitted, EventBounced}
	// every subset, then every superset obtained by adding one event
	for mask := 0; mask < 1<<len(all); mask++ {
		base := EventSet{}
		for i, e := range all {
			if mask&(1<<i) != 0 {
				base[e] = true
			}
		}
		before := DeriveStatus(base)
		for _, e := range all {
			grown := EventSet{e: true}
			for k := range base {
				grown[k] = true
			}
			if after := DeriveStatus(grown); after.Rank() < before.Rank() {
				t.Fatalf("adding %s to %v regressed %s -> %s", e, base, before, after)
			}
		}
	}
}

func TestAdvance(t *testing.T) {
	if got := Advance(TargetClicked, TargetOpened); got != TargetClicked {
		t.Errorf("Advance(clicked, opened) = %s", got)
	}
	if got := Advance(TargetSent, TargetOpened); got != TargetOpened {
		t.Errorf("Advance(sent, opened) = %s", got)
	}
	if got := Advance(TargetSubmitted, TargetClicked); got != TargetSubmitted {
		t.Errorf("Advance(submitted, clicked) = %s", got)
	}
}

func TestPreconditionError(t *testing.T) {
	var err error = &PreconditionError{Condition: ConditionNotDraft, Detail: "status is active"}
	pe, ok := IsPrecondition(err)
	if !ok || pe.Condition != ConditionNotDraft {
		t.Fatalf("IsPrecondition = %v, %v", pe, ok)
	}
	if err.Error() != "precondition failed: not_draft: status is active" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
