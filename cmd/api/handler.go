package api

import (
	"context"
	"fmt"
	"strings"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	authrepo "github.com/elie222/inbox-zero-sub019/internal/auth/repository"
	authusecase "github.com/elie222/inbox-zero-sub019/internal/auth/usecase"
	digestdelivery "github.com/elie222/inbox-zero-sub019/internal/digest/delivery"
	digestrepo "github.com/elie222/inbox-zero-sub019/internal/digest/repository"
	digestusecase "github.com/elie222/inbox-zero-sub019/internal/digest/usecase"
	emailusecase "github.com/elie222/inbox-zero-sub019/internal/email/usecase"
	executiondelivery "github.com/elie222/inbox-zero-sub019/internal/execution/delivery"
	executionrepo "github.com/elie222/inbox-zero-sub019/internal/execution/repository"
	executionusecase "github.com/elie222/inbox-zero-sub019/internal/execution/usecase"
	historydelivery "github.com/elie222/inbox-zero-sub019/internal/history/delivery"
	historyusecase "github.com/elie222/inbox-zero-sub019/internal/history/usecase"
	"github.com/elie222/inbox-zero-sub019/internal/notification"
	queuedelivery "github.com/elie222/inbox-zero-sub019/internal/queue/delivery"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	queuerepo "github.com/elie222/inbox-zero-sub019/internal/queue/repository"
	queueusecase "github.com/elie222/inbox-zero-sub019/internal/queue/usecase"
	ruledelivery "github.com/elie222/inbox-zero-sub019/internal/rule/delivery"
	rulerepo "github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	ruleusecase "github.com/elie222/inbox-zero-sub019/internal/rule/usecase"
	"github.com/elie222/inbox-zero-sub019/pkg/ai"
	"github.com/elie222/inbox-zero-sub019/pkg/chroma"
	"github.com/elie222/inbox-zero-sub019/pkg/config"
	"github.com/elie222/inbox-zero-sub019/pkg/crypto"
	"github.com/elie222/inbox-zero-sub019/pkg/fcm"
	"github.com/elie222/inbox-zero-sub019/pkg/gmail"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"gorm.io/gorm"
)

// App holds every long-lived component of the service.
type App struct {
	Config *config.Config

	Queue        *queueusecase.Controller
	Reconciler   *historyusecase.Reconciler
	Processor    *executionusecase.MessageProcessor
	Rules        *ruleusecase.RuleService
	Digests      *digestusecase.DigestService
	Scheduler    *digestusecase.Scheduler
	Compiler     *digestusecase.Compiler
	DraftCleaner *executionusecase.DraftCleaner
	IMAPPoller   *notification.IMAPPoller
	WatchRenewer *notification.WatchRenewer
	PubSub       *notification.Service // nil without a Google project

	auth       *authusecase.AuthUsecase
	bulk       *executionusecase.BulkRunner
	queueHTTP  *queuedelivery.QueueHandler
	webhook    *historydelivery.WebhookHandler
	ruleHTTP   *ruledelivery.RuleHandler
	digestHTTP *digestdelivery.DigestHandler
	execHTTP   *executiondelivery.ExecutionHandler
}

// NewApp wires repositories, providers, the AI boundary and the queue.
// Optional integrations (Gmail, FCM, Chroma, Pub/Sub) are skipped with a
// warning when not configured.
func NewApp(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	accounts := authrepo.NewAccountRepository(db)
	fcmTokens := authrepo.NewFCMTokenRepository(db)
	rules := rulerepo.NewRuleRepository(db)
	groups := rulerepo.NewGroupRepository(db)
	ledger := executionrepo.NewLedgerRepository(db)
	digests := digestrepo.NewDigestRepository(db)
	jobs := queuerepo.NewJobRepository(db)
	locks := queuerepo.NewLockRepository(db)

	var box *crypto.Box
	if cfg.EncryptionKey != "" {
		var err error
		if box, err = crypto.NewBox(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	} else {
		logger.Logger.Warn().Msg("[App] ENCRYPTION_KEY not set, IMAP accounts are disabled")
	}

	shortTopic, fullTopic := topicNames(cfg.GoogleProjectID, cfg.GooglePubSubTopic)
	var gmailService *gmail.Service
	if cfg.GoogleClientID != "" {
		gmailService = gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, fullTopic)
	} else {
		logger.Logger.Warn().Msg("[App] GOOGLE_CLIENT_ID not set, Gmail accounts are disabled")
	}
	providers := emailusecase.NewProviderFactory(gmailService, box, accounts)

	completer, err := ai.NewCompleter(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiApiKey,
		GeminiModel:   cfg.GeminiModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI provider: %w", err)
	}
	logger.Logger.Info().Str("provider", completer.Name()).Msg("[App] AI provider ready")

	queue := queueusecase.NewController(jobs, queueusecase.Config{
		Workers:      cfg.QueueWorkers,
		PollInterval: cfg.QueuePollInterval,
		TaskTimeout:  cfg.TaskTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Secret:       cfg.QueueSecret,
	})

	var vectors *chroma.ChromaClient
	if cfg.ChromaAPIKey != "" {
		if vectors, err = chroma.NewChromaClient(cfg); err != nil {
			logger.Logger.Warn().Err(err).Msg("[App] Chroma unavailable, classifier runs without examples")
			vectors = nil
		}
	}
	var examples ruleusecase.ExampleProvider
	var index executionusecase.VectorIndex
	if vectors != nil {
		examples = executionusecase.NewLedgerExamples(vectors, ledger)
		index = vectors
	}

	var notifier digestusecase.Notifier
	if cfg.FirebaseCredentials != "" {
		client, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("[App] FCM unavailable, push notifications disabled")
		} else {
			notifier = notification.NewPusher(fcmTokens, client)
		}
	}

	ruleService := ruleusecase.NewRuleService(rules, groups)
	selector := ruleusecase.NewSelector(rules, completer, examples, cfg.AITaskTimeout/3)
	digestService := digestusecase.NewDigestService(digests, ai.NewSummarizer(completer))
	executor := executionusecase.NewExecutor(ledger, digestService, ai.NewDrafter(completer))
	processor := executionusecase.NewMessageProcessor(accounts, providers, rules, selector, ruleService,
		ledger, executor, locks, index, cfg.MessageLockTTL)
	compiler := digestusecase.NewCompiler(digests, accounts, providers, notifier)
	reconciler := historyusecase.NewReconciler(accounts, providers, rules, queue, cfg.ResyncWindow, cfg.ResyncLimit)
	bulk := executionusecase.NewBulkRunner(accounts, providers, queue)

	queue.Handle(queuedomain.URLReconcile, reconciler.Handle, cfg.TaskTimeout)
	queue.Handle(queuedomain.URLProcessMessage, processor.Handle, cfg.AITaskTimeout)
	queue.Handle(queuedomain.URLDigestCompile, compiler.Handle, cfg.TaskTimeout)
	queue.Handle(queuedomain.URLBulk, bulk.Handle, cfg.AITaskTimeout)

	var google authusecase.GoogleExchanger
	if gmailService != nil {
		google = gmailService
	}
	auth := authusecase.NewAuthUsecase(accounts, fcmTokens, google, box, cfg.JWTSecret, cfg.JWTExpiry, cfg.GoogleRedirectURL)

	app := &App{
		Config:       cfg,
		Queue:        queue,
		Reconciler:   reconciler,
		Processor:    processor,
		Rules:        ruleService,
		Digests:      digestService,
		Scheduler:    digestusecase.NewScheduler(digests, queue, cfg.DigestTickInterval),
		Compiler:     compiler,
		DraftCleaner: executionusecase.NewDraftCleaner(ledger, accounts, providers, cfg.DraftStaleAfter, cfg.DraftCleanupEvery),
		IMAPPoller:   notification.NewIMAPPoller(accounts, reconciler, cfg.IMAPPollInterval),
		auth:         auth,
		bulk:         bulk,
		queueHTTP:    queuedelivery.NewQueueHandler(queue, jobs, cfg.QueueSecret),
		webhook:      historydelivery.NewWebhookHandler(reconciler, cfg.WebhookToken),
		ruleHTTP:     ruledelivery.NewRuleHandler(ruleService),
		digestHTTP:   digestdelivery.NewDigestHandler(digestService, compiler),
		execHTTP:     executiondelivery.NewExecutionHandler(processor, bulk, queue),
	}

	if gmailService != nil {
		app.WatchRenewer = notification.NewWatchRenewer(accounts, gmailService, cfg.WatchRenewInterval)
		auth.OnConnect(func(ctx context.Context, account *authdomain.Account) error {
			if !account.IsGoogle() {
				return nil
			}
			return app.WatchRenewer.RenewAccount(ctx, account)
		})
		if cfg.GoogleProjectID != "" {
			if app.PubSub, err = notification.NewService(ctx, cfg.GoogleProjectID, shortTopic, cfg.GoogleCredentials, reconciler); err != nil {
				logger.Logger.Warn().Err(err).Msg("[App] Pub/Sub pull disabled")
				app.PubSub = nil
			}
		}
	}
	// New accounts start with the preset rules; Bootstrap skips ones that exist.
	auth.OnConnect(func(ctx context.Context, account *authdomain.Account) error {
		_, err := ruleService.Bootstrap(ctx, account.ID, nil)
		return err
	})

	return app, nil
}

// topicNames returns the short topic id used by the Pub/Sub client and the
// full resource name Gmail's watch call expects.
func topicNames(projectID, topic string) (string, string) {
	short := topic
	if parts := strings.Split(topic, "/"); len(parts) > 1 {
		short = parts[len(parts)-1]
	}
	if short == "" {
		short = "gmail-updates"
	}
	full := topic
	if !strings.HasPrefix(full, "projects/") && projectID != "" {
		full = fmt.Sprintf("projects/%s/topics/%s", projectID, short)
	}
	return short, full
}
