package rbac

// AccountType is the role attached to a profile. Residents and businesses
// submit applications; the municipal roles review them.
type AccountType string
type Action string

const (
	AccountResident       AccountType = "resident"
	AccountBusiness       AccountType = "business"
	AccountMunicipal      AccountType = "municipal"
	AccountMunicipalAdmin AccountType = "municipaladmin"
	AccountMunicipalUser  AccountType = "municipaluser"
	AccountSuperAdmin     AccountType = "superadmin"
)

const (
	ActionRead    Action = "read"
	ActionSubmit  Action = "submit"
	ActionComment Action = "comment"
	// ActionReview covers status transitions and reviewer assignment
	ActionReview Action = "review"
	// ActionInternal gates reading and writing internal comments
	ActionInternal Action = "internal"
	ActionAdmin    Action = "admin"
)

func Can(account AccountType, action Action) bool {
	switch account {
	case AccountSuperAdmin:
		return true
	case AccountMunicipalAdmin:
		return action == ActionRead || action == ActionComment || action == ActionReview || action == ActionInternal || action == ActionAdmin
	case AccountMunicipal, AccountMunicipalUser:
		return action == ActionRead || action == ActionComment || action == ActionReview || action == ActionInternal
	case AccountResident, AccountBusiness:
		return action == ActionRead || action == ActionSubmit || action == ActionComment
	default:
		return false
	}
}

// IsStaff reports whether the account belongs to municipal staff.
// Staff see internal comments and every application in their municipality.
func IsStaff(account AccountType) bool {
	switch account {
	case AccountMunicipal, AccountMunicipalAdmin, AccountMunicipalUser, AccountSuperAdmin:
		return true
	default:
		return false
	}
}

func Normalize(account string) AccountType {
	switch AccountType(account) {
	case AccountResident, AccountBusiness, AccountMunicipal, AccountMunicipalAdmin, AccountMunicipalUser, AccountSuperAdmin:
		return AccountType(account)
	default:
		return AccountResident
	}
}
