package bot

import (
	"context"
	"fmt"
	"time"

	"warden/internal/audit"
	"warden/internal/enforcer"
	"warden/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	colorPunishment = 0xEF4444
	colorReversion  = 0xF59E0B
	colorAudit      = 0xF97316
)

// PunishmentApplied posts the punishment notice to the guild's log channel.
// One-way push: a failed send is dropped.
func (b *Bot) PunishmentApplied(ctx context.Context, notice enforcer.Notice) {
	channelID := b.logChannel(ctx, notice.GuildID)
	if channelID == "" {
		return
	}
	_, _ = b.session.ChannelMessageSendEmbed(channelID, punishmentEmbed(notice))
}

func punishmentEmbed(notice enforcer.Notice) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Actor", Value: "<@" + notice.ActorID + ">", Inline: true},
		{Name: "Action", Value: string(notice.Action), Inline: true},
		{Name: "Count", Value: fmt.Sprintf("%d/%d", notice.Count, notice.Limit), Inline: true},
		{Name: "Punishment", Value: string(notice.Punishment), Inline: true},
	}
	// A zero case number means the case write failed; no field to chase.
	if notice.CaseNumber > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Case", Value: fmt.Sprintf("#%d", notice.CaseNumber), Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Window resets", Value: notice.WindowResetAt.Format(time.RFC3339), Inline: true})

	return &discordgo.MessageEmbed{
		Title:     "Privileged-action limit exceeded",
		Color:     colorPunishment,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields:    fields,
	}
}

// ActionsReverted posts one aggregated reversion notice per breach.
func (b *Bot) ActionsReverted(ctx context.Context, summary enforcer.ReversionSummary) {
	channelID := b.logChannel(ctx, summary.GuildID)
	if channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Recent actions reverted",
		Color:     colorReversion,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Actor", Value: "<@" + summary.ActorID + ">", Inline: true},
			{Name: "Action", Value: string(summary.Action), Inline: true},
			{Name: "Reverted", Value: fmt.Sprintf("%d/%d", summary.Reverted, summary.Attempted), Inline: true},
		},
	}
	_, _ = b.session.ChannelMessageSendEmbed(channelID, embed)
}

// notifyAudit mirrors WARN/CRIT operational entries to the log channel.
// Punishment and reversion already get their own richer notices.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Level == audit.LevelInfo {
		return
	}
	switch entry.Event {
	case "punishment_applied", "actions_reverted":
		return
	}
	channelID := b.logChannel(ctx, entry.GuildID)
	if channelID == "" {
		return
	}

	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = "system"
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Guard audit",
		Color:     colorAudit,
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Event", Value: entry.Event, Inline: true},
			{Name: "Level", Value: entry.Level, Inline: true},
			{Name: "User", Value: userValue, Inline: true},
			{Name: "Details", Value: entry.Details, Inline: false},
		},
	}
	_, _ = b.session.ChannelMessageSendEmbed(channelID, embed)
}

func (b *Bot) logChannel(ctx context.Context, guildID string) string {
	cfg, present, err := b.confs.GetConfiguration(ctx, guildID)
	if err == nil && present && cfg.LogChannel != "" {
		return cfg.LogChannel
	}
	return b.cfg.DefaultLogChannel
}
