package workflow

import "testing"

func TestDraftTransitionsToSubmittedOnly(t *testing.T) {
	for _, kind := range Kinds() {
		next := ValidTransitions(kind, StatusDraft)
		if len(next) != 1 || next[0] != StatusSubmitted {
			t.Errorf("%s: ValidTransitions(draft) = %v, want [submitted]", kind, next)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminals := map[Kind][]Status{
		KindPermit:  {StatusDenied, StatusWithdrawn, StatusExpired, StatusRejected, StatusIssued},
		KindLicense: {StatusDenied, StatusWithdrawn, StatusExpired, StatusRejected, StatusIssued},
		KindService: {StatusDenied, StatusWithdrawn, StatusExpired, StatusRejected, StatusIssued},
		KindTax:     {StatusDenied, StatusWithdrawn, StatusExpired, StatusRejected, StatusApproved},
	}

	for kind, expected := range terminals {
		want := make(map[Status]bool, len(expected))
		for _, status := range expected {
			want[status] = true
		}
		descriptor, err := Describe(kind)
		if err != nil {
			t.Fatalf("Describe(%s): %v", kind, err)
		}
		for status := range descriptor.Statuses {
			if got := Terminal(kind, status); got != want[status] {
				t.Errorf("%s: Terminal(%s) = %v, want %v", kind, status, got, want[status])
			}
			if want[status] && len(ValidTransitions(kind, status)) != 0 {
				t.Errorf("%s: terminal status %s has outgoing transitions", kind, status)
			}
		}
	}
}

func TestApprovedTerminalForTaxOnly(t *testing.T) {
	if !Terminal(KindTax, StatusApproved) {
		t.Error("tax: approved should be terminal")
	}
	for _, kind := range []Kind{KindPermit, KindLicense, KindService} {
		next := ValidTransitions(kind, StatusApproved)
		if len(next) != 1 || next[0] != StatusIssued {
			t.Errorf("%s: ValidTransitions(approved) = %v, want [issued]", kind, next)
		}
	}
}

func TestTaxVocabularyExcludesIssued(t *testing.T) {
	if Valid(KindTax, StatusIssued) {
		t.Error("tax submissions should not have an issued status")
	}
	if !Valid(KindPermit, StatusIssued) {
		t.Error("permits should have an issued status")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		kind Kind
		from Status
		to   Status
		want bool
	}{
		{KindPermit, StatusDraft, StatusSubmitted, true},
		{KindPermit, StatusDraft, StatusApproved, false},
		{KindPermit, StatusSubmitted, StatusUnderReview, true},
		{KindPermit, StatusUnderReview, StatusInfoRequested, true},
		{KindPermit, StatusInfoRequested, StatusResubmitted, true},
		{KindPermit, StatusResubmitted, StatusApproved, true},
		{KindPermit, StatusApproved, StatusIssued, true},
		{KindPermit, StatusIssued, StatusDraft, false},
		{KindPermit, StatusDenied, StatusUnderReview, false},
		{KindTax, StatusApproved, StatusIssued, false},
		{KindTax, StatusUnderReview, StatusApproved, true},
		{KindLicense, StatusSubmitted, StatusRejected, true},
		{KindService, StatusInfoRequested, StatusExpired, true},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.kind, tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tc.kind, tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRequiresReason(t *testing.T) {
	for _, status := range []Status{StatusDenied, StatusWithdrawn, StatusInfoRequested} {
		if !RequiresReason(status) {
			t.Errorf("RequiresReason(%s) = false, want true", status)
		}
	}
	for _, status := range []Status{StatusSubmitted, StatusApproved, StatusIssued, StatusExpired} {
		if RequiresReason(status) {
			t.Errorf("RequiresReason(%s) = true, want false", status)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(string(kind))
		if err != nil || parsed != kind {
			t.Errorf("ParseKind(%s) = %s, %v", kind, parsed, err)
		}
	}
	if _, err := ParseKind("parade"); err == nil {
		t.Error("ParseKind(parade) should fail")
	}
}

func TestDescriptorTables(t *testing.T) {
	seen := make(map[string]Kind)
	for _, kind := range Kinds() {
		descriptor, err := Describe(kind)
		if err != nil {
			t.Fatalf("Describe(%s): %v", kind, err)
		}
		if descriptor.Table == "" || descriptor.CommentsTable == "" {
			t.Errorf("%s: descriptor missing table names", kind)
		}
		if other, dup := seen[descriptor.Table]; dup {
			t.Errorf("%s and %s share table %s", kind, other, descriptor.Table)
		}
		seen[descriptor.Table] = kind
	}
}
