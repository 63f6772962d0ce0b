package rbac

// Role names are carried in access tokens; renaming one invalidates issued tokens.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator"
	RoleAnalyst    = "analyst"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
)

// Permission is one capability on the /v1 API.
type Permission string

const (
	ViewCampaigns    Permission = "campaigns.view"
	OperateCampaigns Permission = "campaigns.operate"
	ClassifyPhones   Permission = "phones.classify"
	ViewWallet       Permission = "wallet.view"
	ManageWallet     Permission = "wallet.manage"
	ViewReports      Permission = "reports.view"
)

var grants = map[string][]Permission{
	RoleOwner:    {ViewCampaigns, OperateCampaigns, ClassifyPhones, ViewWallet, ManageWallet, ViewReports},
	RoleOperator: {ViewCampaigns, OperateCampaigns, ClassifyPhones, ViewWallet},
	RoleAnalyst:  {ViewCampaigns, ViewWallet, ViewReports},
	RoleFinance:  {ViewCampaigns, ViewWallet, ManageWallet, ViewReports},
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Known reports whether role is a role this service issues tokens for.
func Known(role string) bool {
	_, ok := grants[role]
	return ok || IsSuperAdmin(role)
}

// Allows reports whether role holds perm. super_admin holds every permission.
func Allows(role string, perm Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	for _, p := range grants[role] {
		if p == perm {
			return true
		}
	}
	return false
}
