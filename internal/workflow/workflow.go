// Package workflow defines the application lifecycle shared by permits,
// business licenses, tax submissions, and municipal service applications.
// The transition tables here are authoritative: the service layer validates
// every requested transition against them before touching the database, and
// the check constraints in the schema are a defensive fallback only.
package workflow

import "fmt"

type Kind string

const (
	KindPermit  Kind = "permit"
	KindLicense Kind = "license"
	KindTax     Kind = "tax"
	KindService Kind = "service"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusUnderReview   Status = "under_review"
	StatusInfoRequested Status = "information_requested"
	StatusResubmitted   Status = "resubmitted"
	StatusApproved      Status = "approved"
	StatusDenied        Status = "denied"
	StatusWithdrawn     Status = "withdrawn"
	StatusExpired       Status = "expired"
	StatusIssued        Status = "issued"
	StatusRejected      Status = "rejected"
)

// Descriptor parameterizes the generic engine for one application kind:
// which statuses exist, where they can go, and which tables hold the rows.
type Descriptor struct {
	Kind          Kind
	Table         string
	CommentsTable string
	Label         string
	Statuses      map[Status]string
	Transitions   map[Status][]Status
}

var baseStatuses = map[Status]string{
	StatusDraft:         "Draft, not yet submitted",
	StatusSubmitted:     "Submitted, awaiting intake",
	StatusUnderReview:   "Under review by municipal staff",
	StatusInfoRequested: "Additional information requested from applicant",
	StatusResubmitted:   "Resubmitted after an information request",
	StatusApproved:      "Approved",
	StatusDenied:        "Denied",
	StatusWithdrawn:     "Withdrawn by applicant",
	StatusExpired:       "Expired awaiting applicant response",
	StatusIssued:        "Issued",
	StatusRejected:      "Rejected at intake",
}

// baseTransitions is the lifecycle for permits, licenses, and service
// applications. Tax submissions share it except that approved is terminal.
var baseTransitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusUnderReview, StatusWithdrawn, StatusRejected},
	StatusUnderReview:   {StatusInfoRequested, StatusApproved, StatusDenied, StatusWithdrawn},
	StatusInfoRequested: {StatusResubmitted, StatusWithdrawn, StatusExpired},
	StatusResubmitted:   {StatusUnderReview, StatusApproved, StatusDenied, StatusWithdrawn},
	StatusApproved:      {StatusIssued},
	StatusIssued:        {},
	StatusDenied:        {},
	StatusWithdrawn:     {},
	StatusExpired:       {},
	StatusRejected:      {},
}

func cloneStatuses(omit ...Status) map[Status]string {
	out := make(map[Status]string, len(baseStatuses))
	for status, description := range baseStatuses {
		out[status] = description
	}
	for _, status := range omit {
		delete(out, status)
	}
	return out
}

func cloneTransitions(overrides map[Status][]Status, omit ...Status) map[Status][]Status {
	out := make(map[Status][]Status, len(baseTransitions))
	for status, next := range baseTransitions {
		out[status] = append([]Status(nil), next...)
	}
	for status, next := range overrides {
		out[status] = append([]Status(nil), next...)
	}
	for _, status := range omit {
		delete(out, status)
	}
	return out
}

var descriptors = map[Kind]Descriptor{
	KindPermit: {
		Kind:          KindPermit,
		Table:         "permit_applications",
		CommentsTable: "permit_application_comments",
		Label:         "Building Permit",
		Statuses:      cloneStatuses(),
		Transitions:   cloneTransitions(nil),
	},
	KindLicense: {
		Kind:          KindLicense,
		Table:         "business_license_applications",
		CommentsTable: "business_license_application_comments",
		Label:         "Business License",
		Statuses:      cloneStatuses(),
		Transitions:   cloneTransitions(nil),
	},
	KindTax: {
		Kind:          KindTax,
		Table:         "tax_submissions",
		CommentsTable: "tax_submission_comments",
		Label:         "Tax Submission",
		Statuses:      cloneStatuses(StatusIssued),
		Transitions: cloneTransitions(map[Status][]Status{
			StatusApproved: {},
		}, StatusIssued),
	},
	KindService: {
		Kind:          KindService,
		Table:         "municipal_service_applications",
		CommentsTable: "municipal_service_application_comments",
		Label:         "Service Application",
		Statuses:      cloneStatuses(),
		Transitions:   cloneTransitions(nil),
	},
}

// Kinds lists every application kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindPermit, KindLicense, KindTax, KindService}
}

func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if _, ok := descriptors[kind]; !ok {
		return "", fmt.Errorf("unknown application kind %q", raw)
	}
	return kind, nil
}

func Describe(kind Kind) (Descriptor, error) {
	descriptor, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown application kind %q", kind)
	}
	return descriptor, nil
}

// Initial is the unique entry state for every kind.
func Initial() Status {
	return StatusDraft
}

// ValidTransitions returns the ordered set of statuses reachable from the
// given status. Unknown statuses and terminal statuses both return an empty
// slice; callers that need to distinguish should check Valid first.
func ValidTransitions(kind Kind, from Status) []Status {
	descriptor, ok := descriptors[kind]
	if !ok {
		return nil
	}
	next, ok := descriptor.Transitions[from]
	if !ok {
		return []Status{}
	}
	return append([]Status(nil), next...)
}

// Valid reports whether the status belongs to the kind's vocabulary.
func Valid(kind Kind, status Status) bool {
	descriptor, ok := descriptors[kind]
	if !ok {
		return false
	}
	_, ok = descriptor.Statuses[status]
	return ok
}

// CanTransition reports whether from → to is an allowed step for the kind.
func CanTransition(kind Kind, from, to Status) bool {
	for _, next := range ValidTransitions(kind, from) {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func Terminal(kind Kind, status Status) bool {
	return Valid(kind, status) && len(ValidTransitions(kind, status)) == 0
}

// RequiresReason lists the transitions whose target statuses carry an
// applicant-facing reason.
func RequiresReason(to Status) bool {
	return to == StatusDenied || to == StatusWithdrawn || to == StatusInfoRequested
}
