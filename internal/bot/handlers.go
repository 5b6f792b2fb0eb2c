package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil {
		return
	}
	for _, role := range event.Guild.Roles {
		if role == nil {
			continue
		}
		b.correlator.SnapshotRole(event.Guild.ID, role.ID, role.Permissions)
	}
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	b.correlator.HandleBanAdd(context.Background(), event.GuildID, event.User.ID)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.Member.GuildID == "" || event.Member.User == nil {
		return
	}
	if !event.Member.User.Bot {
		return
	}
	b.correlator.HandleBotAdd(context.Background(), event.Member.GuildID, event.Member.User.ID)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.Member.GuildID == "" || event.Member.User == nil {
		return
	}
	b.correlator.HandleMemberRemove(context.Background(), event.Member.GuildID, event.Member.User.ID)
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.Member.GuildID == "" || event.Member.User == nil {
		return
	}
	// Without the prior member state the role delta cannot be computed.
	if event.BeforeUpdate == nil {
		return
	}
	b.correlator.HandleMemberRolesChange(context.Background(), event.Member.GuildID, event.Member.User.ID, event.BeforeUpdate.Roles, event.Member.Roles)
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.correlator.HandleChannelCreate(context.Background(), event.Channel.GuildID, event.Channel.ID, event.Channel.Name)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.correlator.HandleChannelDelete(context.Background(), event.Channel.GuildID, event.Channel.ID, event.Channel.Name)
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	b.correlator.HandleRoleCreate(context.Background(), event.GuildID, event.Role.ID, event.Role.Name, event.Role.Permissions)
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID == "" || event.RoleID == "" {
		return
	}
	b.correlator.HandleRoleDelete(context.Background(), event.GuildID, event.RoleID)
}

func (b *Bot) onRoleUpdate(session *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildID == "" || event.Role == nil {
		return
	}
	b.correlator.HandleRoleUpdate(context.Background(), event.GuildID, event.Role.ID, event.Role.Name, event.Role.Permissions)
}
