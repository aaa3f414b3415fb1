package alerts

type Permission string

const (
	PermRead     Permission = "notifications:read"
	PermEdit     Permission = "notifications:edit"
	PermApprove  Permission = "notifications:approve"
	PermDeny     Permission = "notifications:deny"
	PermDispatch Permission = "notifications:dispatch"
)

type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	ps := make(PermissionSet, len(perms))
	for _, p := range perms {
		ps[p] = struct{}{}
	}
	return ps
}

func (ps PermissionSet) Has(p Permission) bool {
	_, ok := ps[p]
	return ok
}

// Caller is the already-authenticated identity an operation runs on behalf of.
type Caller struct {
	UserID         string
	OrganizationID string
	Permissions    PermissionSet
}
