package tickets

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusAvailable, StatusReserved, true},
		{StatusReserved, StatusPaid, true},
		{StatusReserved, StatusAvailable, true},
		{StatusAvailable, StatusPaid, false},
		{StatusPaid, StatusAvailable, false},
		{StatusPaid, StatusReserved, false},
		{StatusReserved, StatusReserved, false},
		{Status("SOLD"), StatusAvailable, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusAvailable, StatusReserved, StatusPaid} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("reserved").Valid() {
		t.Error("lowercase status accepted")
	}
}

func TestGroupByOrder(t *testing.T) {
	got := GroupByOrder([]Released{{1, "a"}, {4, "b"}, {2, "a"}})
	if len(got) != 2 || len(got["a"]) != 2 || got["b"][0] != 4 {
		t.Errorf("GroupByOrder = %v", got)
	}
}
