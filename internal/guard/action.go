package guard

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Action identifies one privileged operation watched by the engine.
type Action string

const (
	ActionBanMember                Action = "ban_member"
	ActionKickMember               Action = "kick_member"
	ActionDeleteRole               Action = "delete_role"
	ActionCreateRole               Action = "create_role"
	ActionDeleteChannel            Action = "delete_channel"
	ActionCreateChannel            Action = "create_channel"
	ActionAddBot                   Action = "add_bot"
	ActionGrantDangerousPermission Action = "grant_dangerous_permission"
	ActionGrantAdminRole           Action = "grant_admin_role"
	ActionPruneMembers             Action = "prune_members"
)

// Wildcard marks an exemption covering every action.
const Wildcard = "*"

func AllActions() []Action {
	return []Action{
		ActionBanMember,
		ActionKickMember,
		ActionDeleteRole,
		ActionCreateRole,
		ActionDeleteChannel,
		ActionCreateChannel,
		ActionAddBot,
		ActionGrantDangerousPermission,
		ActionGrantAdminRole,
		ActionPruneMembers,
	}
}

func ParseAction(value string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AllActions() {
		if action == known {
			return action, true
		}
	}
	return "", false
}

type Punishment string

const (
	PunishBan     Punishment = "ban"
	PunishKick    Punishment = "kick"
	PunishTimeout Punishment = "timeout"
)

// DefaultPunishment applies when a guild never configured one for the action.
const DefaultPunishment = PunishBan

func ParsePunishment(value string) (Punishment, bool) {
	switch Punishment(strings.ToLower(strings.TrimSpace(value))) {
	case PunishBan:
		return PunishBan, true
	case PunishKick:
		return PunishKick, true
	case PunishTimeout:
		return PunishTimeout, true
	default:
		return "", false
	}
}

// DangerousPermissions is the permission set whose grant counts as an
// escalation attempt.
const DangerousPermissions = discordgo.PermissionAdministrator |
	discordgo.PermissionManageServer |
	discordgo.PermissionManageRoles |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionManageChannels

// RevertStrip is removed from a role during reversion; webhooks are included
// even though their grant alone does not trip detection.
const RevertStrip = DangerousPermissions | discordgo.PermissionManageWebhooks

var permissionNames = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionAdministrator, "administrator"},
	{discordgo.PermissionManageServer, "manage_guild"},
	{discordgo.PermissionManageRoles, "manage_roles"},
	{discordgo.PermissionBanMembers, "ban_members"},
	{discordgo.PermissionKickMembers, "kick_members"},
	{discordgo.PermissionManageChannels, "manage_channels"},
	{discordgo.PermissionManageWebhooks, "manage_webhooks"},
}

// PermissionNames lists the named dangerous permissions present in bits.
func PermissionNames(bits int64) []string {
	var names []string
	for _, perm := range permissionNames {
		if bits&perm.bit != 0 {
			names = append(names, perm.name)
		}
	}
	return names
}
