package bot

import (
	"errors"
	"time"

	"warden/internal/correlator"
	"warden/internal/guard"

	"github.com/bwmarrin/discordgo"
)

// Discord-facing adapter: implements correlator.AuditSource,
// correlator.Directory, and enforcer.Surface on top of the session.

var errGuildUnavailable = errors.New("guild unavailable")

func auditLogAction(action guard.Action) discordgo.AuditLogAction {
	switch action {
	case guard.ActionBanMember:
		return discordgo.AuditLogActionMemberBanAdd
	case guard.ActionKickMember:
		return discordgo.AuditLogActionMemberKick
	case guard.ActionPruneMembers:
		return discordgo.AuditLogActionMemberPrune
	case guard.ActionAddBot:
		return discordgo.AuditLogActionBotAdd
	case guard.ActionCreateRole:
		return discordgo.AuditLogActionRoleCreate
	case guard.ActionDeleteRole:
		return discordgo.AuditLogActionRoleDelete
	case guard.ActionGrantDangerousPermission:
		return discordgo.AuditLogActionRoleUpdate
	case guard.ActionCreateChannel:
		return discordgo.AuditLogActionChannelCreate
	case guard.ActionDeleteChannel:
		return discordgo.AuditLogActionChannelDelete
	case guard.ActionGrantAdminRole:
		return discordgo.AuditLogActionMemberRoleUpdate
	default:
		return 0
	}
}

func (b *Bot) RecentAudit(guildID string, action guard.Action, limit int) ([]correlator.AuditEntry, error) {
	logs, err := b.session.GuildAuditLog(guildID, "", "", int(auditLogAction(action)), limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		return nil, nil
	}

	var entries []correlator.AuditEntry
	for _, raw := range logs.AuditLogEntries {
		if raw == nil {
			continue
		}
		createdAt, err := discordgo.SnowflakeTimestamp(raw.ID)
		if err != nil {
			createdAt = time.Time{}
		}
		entries = append(entries, correlator.AuditEntry{
			ID:         raw.ID,
			ExecutorID: raw.UserID,
			TargetID:   raw.TargetID,
			Reason:     raw.Reason,
			CreatedAt:  createdAt,
		})
	}
	return entries, nil
}

func (b *Bot) BotID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

func (b *Bot) OwnerID(guildID string) (string, error) {
	guild, err := b.guild(guildID)
	if err != nil {
		return "", err
	}
	return guild.OwnerID, nil
}

func (b *Bot) MemberRoles(guildID, userID string) ([]string, error) {
	member := b.member(guildID, userID)
	if member == nil {
		return nil, nil
	}
	return member.Roles, nil
}

func (b *Bot) RoleHasAdmin(guildID, roleID string) (bool, error) {
	role, err := b.role(guildID, roleID)
	if err != nil {
		return false, err
	}
	return role.Permissions&discordgo.PermissionAdministrator != 0, nil
}

func (b *Bot) TopRolePosition(guildID, userID string) (int, error) {
	guild, err := b.guild(guildID)
	if err != nil {
		return 0, err
	}
	member := b.member(guildID, userID)
	if member == nil {
		return 0, nil
	}

	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
	}
	top := 0
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil && role.Position > top {
			top = role.Position
		}
	}
	return top, nil
}

func (b *Bot) Ban(guildID, userID, reason string) error {
	return b.session.GuildBanCreateWithReason(guildID, userID, reason, 0)
}

func (b *Bot) Kick(guildID, userID, reason string) error {
	return b.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (b *Bot) Timeout(guildID, userID string, until time.Time, reason string) error {
	return b.session.GuildMemberTimeout(guildID, userID, &until)
}

func (b *Bot) DeleteChannel(guildID, channelID, reason string) error {
	_, err := b.session.ChannelDelete(channelID)
	return err
}

func (b *Bot) DeleteRole(guildID, roleID, reason string) error {
	return b.session.GuildRoleDelete(guildID, roleID)
}

func (b *Bot) RolePermissions(guildID, roleID string) (int64, error) {
	role, err := b.role(guildID, roleID)
	if err != nil {
		return 0, err
	}
	return role.Permissions, nil
}

func (b *Bot) SetRolePermissions(guildID, roleID string, permissions int64, reason string) error {
	_, err := b.session.GuildRoleEdit(guildID, roleID, &discordgo.RoleParams{Permissions: &permissions})
	return err
}

func (b *Bot) RemoveRole(guildID, userID, roleID, reason string) error {
	return b.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (b *Bot) guild(guildID string) (*discordgo.Guild, error) {
	guild, err := b.session.State.Guild(guildID)
	if err == nil && guild != nil {
		return guild, nil
	}
	guild, err = b.session.Guild(guildID)
	if err != nil {
		return nil, err
	}
	if guild == nil {
		return nil, errGuildUnavailable
	}
	return guild, nil
}

func (b *Bot) member(guildID, userID string) *discordgo.Member {
	member, err := b.session.State.Member(guildID, userID)
	if err == nil && member != nil {
		return member
	}
	member, _ = b.session.GuildMember(guildID, userID)
	return member
}

func (b *Bot) role(guildID, roleID string) (*discordgo.Role, error) {
	role, err := b.session.State.Role(guildID, roleID)
	if err == nil && role != nil {
		return role, nil
	}
	guild, err := b.session.Guild(guildID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range guild.Roles {
		if candidate != nil && candidate.ID == roleID {
			return candidate, nil
		}
	}
	return nil, errors.New("role not found")
}
