package session

import (
	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/lifecycle"
)

// Permissions beyond the lifecycle actions
const (
	PermCreate          = "create"
	PermManageDesigners = "manage_designers"
	PermSync            = "sync"
	PermViewAll         = "view_all"
)

var grants = map[campaign.Role]map[string]bool{
	campaign.RoleClient: {
		PermCreate:                          true,
		PermManageDesigners:                 true,
		PermSync:                            true,
		PermViewAll:                         true,
		string(lifecycle.ActionApprove):     true,
		string(lifecycle.ActionReject):      true,
		string(lifecycle.ActionDelete):      true,
		string(lifecycle.ActionEditCaption): true,
	},
	campaign.RoleDesigner: {
		PermSync:                             true,
		string(lifecycle.ActionSubmitDesign): true,
	},
}

// Permitted reports whether role may perform action. Admin may do everything.
func Permitted(role campaign.Role, action string) bool {
	if role == campaign.RoleAdmin {
		return true
	}
	return grants[role][action]
}

// DesignerQueue lists the statuses a designer works on
var DesignerQueue = []campaign.Status{
	campaign.StatusNew,
	campaign.StatusDesignUploaded,
	campaign.StatusRejected,
}
