package roles

const (
	ROLE_GUARDIAN = "guardian"
	ROLE_STAFF    = "staff"
	ROLE_ADMIN    = "admin"
)

// All lists the roles carried as boolean custom claims.
var All = []string{ROLE_GUARDIAN, ROLE_STAFF, ROLE_ADMIN}
