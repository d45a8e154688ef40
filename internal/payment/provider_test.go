package payment

import "testing"

func TestNormaliseStatus(t *testing.T) {
	cases := map[string]Outcome{
		"approved":     OutcomeApproved,
		" Approved ":   OutcomeApproved,
		"rejected":     OutcomeRejected,
		"cancelled":    OutcomeRejected,
		"canceled":     OutcomeRejected,
		"refunded":     OutcomeRejected,
		"charged_back": OutcomeRejected,
		"pending":      OutcomeUnknown,
		"in_process":   OutcomeUnknown,
		"authorized":   OutcomeUnknown,
		"":             OutcomeUnknown,
		"something":    OutcomeUnknown,
	}
	for in, want := range cases {
		if got := NormaliseStatus(in); got != want {
			t.Errorf("NormaliseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseOutcome(t *testing.T) {
	cases := map[string]Outcome{
		"APPROVED": OutcomeApproved,
		"rejected": OutcomeRejected,
		"UNKNOWN":  OutcomeUnknown,
		"approved": OutcomeApproved,
		"refunded": OutcomeRejected,
	}
	for in, want := range cases {
		if got := ParseOutcome(in); got != want {
			t.Errorf("ParseOutcome(%q) = %s, want %s", in, got, want)
		}
	}
}
