package auth

const (
	PermPayrollRead    = "payroll.read"
	PermPayrollWrite   = "payroll.write"
	PermPayrollApprove = "payroll.approve"
	PermPayrollLock    = "payroll.lock"
	PermPayrollPost    = "payroll.post"
)

const (
	RoleViewer         = "viewer"
	RolePayrollOfficer = "payroll_officer"
	RolePayrollManager = "payroll_manager"
	RoleFinance        = "finance"
)

var DefaultPermissions = []string{
	PermPayrollRead,
	PermPayrollWrite,
	PermPayrollApprove,
	PermPayrollLock,
	PermPayrollPost,
}

// RolePermissions is the fixed grant table. Preparing a run and approving it
// sit with different roles; posting belongs to finance.
var RolePermissions = map[string][]string{
	RoleViewer: {
		PermPayrollRead,
	},
	RolePayrollOfficer: {
		PermPayrollRead,
		PermPayrollWrite,
	},
	RolePayrollManager: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollApprove,
		PermPayrollLock,
	},
	RoleFinance: {
		PermPayrollRead,
		PermPayrollLock,
		PermPayrollPost,
	},
}

func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

func HasPermission(role, permission string) bool {
	for _, perm := range RolePermissions[role] {
		if perm == permission {
			return true
		}
	}
	return false
}
