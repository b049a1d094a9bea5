package api

import (
	"time"

	"backend/internal/automation"
	"backend/internal/billing"
	"backend/internal/config"
	"backend/internal/infra/queue"
	"backend/internal/notification"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用依赖集合，由 BuildApp 一次性组装
type App struct {
	Gate     *automation.Gate
	Registry *automation.Registry
	Matcher  *automation.Matcher
	Builder  *automation.ContextBuilder
	Runner   *automation.Runner
	Service  *automation.Service

	Dispatcher *automation.Dispatcher

	Store          *billing.Store
	BillingService *billing.Service

	QueueClient queue.Client
}

// BuildApp 组装应用依赖
// 组装顺序：对象存取层 → 外发通道 → 动作注册表 → 引擎 → 业务服务。
func BuildApp(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *App {
	queueClient := queue.NewClient(cfg.Redis)

	store := billing.NewStore(db)

	// 外发通道
	emailSender := notification.NewSMTPEmailSender(db, &notification.EmailConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.SMTP.FromAddress,
		FromName:    cfg.SMTP.FromName,
	}, logger)
	webhookSender := notification.NewHTTPWebhookSender(
		cfg.Webhook.SigningSecret,
		time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second,
		logger,
	)
	slackSender := notification.NewSlackWebhookSender(0)
	notifier := notification.NewDBNotifier(db)
	documents := notification.NewDocumentMailer(store, emailSender)

	// 动作注册表
	normalizers := automation.NewNormalizerRegistry()
	registry := automation.NewDefaultRegistry(automation.RegistryDeps{
		Store:       store,
		Normalizers: normalizers,
		Email:       emailSender,
		Webhook:     webhookSender,
		Slack:       slackSender,
		Notifier:    notifier,
		Documents:   documents,
	})

	// 引擎
	gate := automation.NewGate()
	var matcherOpts []automation.MatcherOption
	if cfg.Automation.MatchLimit > 0 {
		matcherOpts = append(matcherOpts, automation.WithMatchLimit(cfg.Automation.MatchLimit))
	}
	if cfg.Automation.MatchCacheTTLSeconds > 0 {
		matcherOpts = append(matcherOpts,
			automation.WithMatchCacheTTL(time.Duration(cfg.Automation.MatchCacheTTLSeconds)*time.Second))
	}
	matcher := automation.NewMatcher(db, gate, matcherOpts...)
	builder := automation.NewContextBuilder(store)
	schedule := automation.NewScheduleEvaluator()
	runner := automation.NewRunner(db, registry, store, queueClient, logger)
	dispatcher := automation.NewDispatcher(db, matcher, builder, runner, schedule, logger)

	// 业务服务
	service := automation.NewService(db, registry, matcher, builder, runner, schedule, store, logger)
	billingService := billing.NewService(db, dispatcher, logger)

	return &App{
		Gate:           gate,
		Registry:       registry,
		Matcher:        matcher,
		Builder:        builder,
		Runner:         runner,
		Service:        service,
		Dispatcher:     dispatcher,
		Store:          store,
		BillingService: billingService,
		QueueClient:    queueClient,
	}
}
