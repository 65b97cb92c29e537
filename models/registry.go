package models

import "github.com/little-brother/lbclient/unpickle"

// Server-side class names used as "py/object" tags.
const (
	TagUserStatus       = "little_brother.transport.user_status_to.UserStatusTO"
	TagUserStatusDetail = "little_brother.transport.user_status_detail_to.UserStatusDetailTO"
	TagUserAdmin        = "little_brother.transport.user_admin_to.UserAdminTO"
	TagUserAdminDetail  = "little_brother.transport.user_admin_detail_to.UserAdminDetailTO"
	TagRuleSet          = "little_brother.transport.rule_set_to.RuleSetTO"
	TagUser             = "little_brother.transport.user_to.UserTO"
	TagControl          = "little_brother.transport.control_to.ControlTO"
)

var registry = unpickle.NewRegistry().
	MustRegister(TagUserStatus, unpickle.Struct[UserStatus]()).
	MustRegister(TagUserStatusDetail, unpickle.Struct[UserStatusDetail]()).
	MustRegister(TagUserAdmin, unpickle.Struct[UserAdmin]()).
	MustRegister(TagUserAdminDetail, unpickle.Struct[UserAdminDetail]()).
	MustRegister(TagRuleSet, unpickle.Struct[RuleSet]()).
	MustRegister(TagUser, unpickle.Struct[User]()).
	MustRegister(TagControl, unpickle.Struct[Control]()).
	Freeze()

// Registry returns the frozen handler registry for all transport objects.
func Registry() *unpickle.Registry {
	return registry
}
