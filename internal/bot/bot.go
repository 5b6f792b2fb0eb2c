package bot

import (
	"context"
	"time"

	"warden/internal/analytics"
	"warden/internal/audit"
	"warden/internal/confcache"
	"warden/internal/config"
	"warden/internal/correlator"
	"warden/internal/enforcer"
	"warden/internal/exempt"
	"warden/internal/ratelimit"
	"warden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	confs      *confcache.Cache
	exemptions *exempt.Registry
	limiter    *ratelimit.Limiter
	enforcer   *enforcer.Enforcer
	correlator *correlator.Correlator
	auditor    *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditor *audit.Logger, analyticsSvc *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		auditor:   auditor,
		analytics: analyticsSvc,
		session:   session,
	}

	b.confs = confcache.New(store, logger)
	b.exemptions = exempt.New(store, logger)
	b.limiter = ratelimit.New(b.confs, store, logger)
	b.enforcer = enforcer.New(b.confs, b.limiter, store, b, auditor, logger)
	b.enforcer.SetNotifier(b)
	b.correlator = correlator.New(b.confs, b.exemptions, b.limiter, b.enforcer, b, b, logger)
	auditor.SetNotifier(b.notifyAudit)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onRoleUpdate)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startRetentionLoop()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) startRetentionLoop() {
	if b.cfg.RetentionDays <= 0 {
		return
	}
	go func() {
		time.Sleep(30 * time.Second)
		b.runRetention()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			b.runRetention()
		}
	}()
}

func (b *Bot) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("audit log cleanup failed", zap.Error(err))
	}
	if err := b.limiter.PurgeOlderThan(ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("action history purge failed", zap.Error(err))
	}
}
