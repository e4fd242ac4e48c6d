package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/robfig/cron/v3"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/broadcast"
	"kiberclub-bot/internal/config"
	"kiberclub-bot/internal/database"
	"kiberclub-bot/internal/handler"
	"kiberclub-bot/internal/notification"
	"kiberclub-bot/internal/payment"
	"kiberclub-bot/internal/sync"
	"kiberclub-bot/internal/tokencache"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	config.InitConfig()
	slog.Info("Application starting", "version", Version, "commit", Commit, "buildDate", BuildDate)

	pool, err := initDatabase(ctx, config.DatabaseURL())
	if err != nil {
		panic(err)
	}

	err = database.RunMigrations(ctx, &database.MigrationConfig{Direction: "up", MigrationsPath: "./db/migrations", Steps: 0}, pool)
	if err != nil {
		panic(err)
	}

	tokenStore := tokencache.NewRedisStore(config.RedisAddr(), config.RedisPassword(), config.RedisDB())
	if err := tokenStore.Ping(ctx); err != nil {
		panic(fmt.Sprintf("redis unavailable: %v", err))
	}

	userRepository := database.NewAppUserRepository(pool)
	clientRepository := database.NewClientRepository(pool)
	broadcastRepository := database.NewBroadcastRepository(pool)

	crmClient := alfacrm.NewClient("https://"+config.CRMHostname(), config.CRMEmail(), config.CRMAPIKey(), config.BranchIds(), tokenStore)

	gateway := payment.NewGatewayClient(config.ExpressPayURL(), config.ExpressPayToken(), config.ExpressPaySignatureKey(), config.DefaultPayURL())
	calculator := payment.NewCalculator(crmClient)
	paymentService := payment.NewService(calculator, gateway)

	b, err := bot.New(config.TelegramToken(), bot.WithWorkers(3))
	if err != nil {
		panic(err)
	}

	syncService := sync.NewSyncService(crmClient, clientRepository, userRepository)
	notificationService := notification.NewService(b, crmClient, clientRepository, userRepository)
	broadcastService := broadcast.NewService(b, userRepository, broadcastRepository)

	botHandler := handler.NewBotHandler(userRepository, clientRepository, crmClient, paymentService)
	apiHandler := handler.NewAPIHandler(crmClient, userRepository, clientRepository, paymentService)

	_, err = b.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: []models.BotCommand{
			{Command: "start", Description: "Начать работу с ботом"},
		},
		LanguageCode: "ru",
	})
	if err != nil {
		slog.Warn("Failed to set bot commands", "error", err)
	}

	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, botHandler.StartCommandHandler)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, handler.CallbackPay, bot.MatchTypeExact, botHandler.PayCallbackHandler)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, handler.CallbackBalances, bot.MatchTypeExact, botHandler.BalancesCallbackHandler)
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil && update.Message.Contact != nil
	}, botHandler.ContactHandler)

	// Рассылка запускается админом командой "/broadcast [статус] текст" —
	// текстом или подписью к фото. История — отдельной командой "/broadcasts".
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		if update.Message == nil {
			return false
		}
		return isCommand(update.Message.Text, "/broadcast") ||
			isCommand(update.Message.Caption, "/broadcast")
	}, broadcastCommandHandler(broadcastService), isAdminMiddleware)
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil && isCommand(update.Message.Text, "/broadcasts")
	}, broadcastHistoryHandler(broadcastService), isAdminMiddleware)

	scheduler := setupScheduler(crmClient, syncService, notificationService)
	scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/healthcheck", healthHandler(pool, tokenStore))
	apiHandler.Register(mux)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GetHealthCheckPort()),
		Handler: mux,
	}
	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	slog.Info("Bot is starting...")
	b.Start(ctx)

	log.Println("Shutting down server…")
	shutdownCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func initDatabase(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 5

	return pgxpool.ConnectConfig(ctx, config)
}

// setupScheduler регистрирует периодические задачи: обновление токена CRM,
// синхронизацию зеркала и уведомительные обходы. Каждая задача обёрнута в
// recover, чтобы паника одной не валила планировщик.
func setupScheduler(crmClient *alfacrm.Client, syncService *sync.SyncService, notificationService *notification.Service) *cron.Cron {
	c := cron.New()

	addJob := func(spec, name string, job func(ctx context.Context) error) {
		_, err := c.AddFunc(spec, func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Panic in scheduled job", "job", name, "panic", r)
				}
			}()
			if err := job(context.Background()); err != nil {
				slog.Error("Scheduled job failed", "job", name, "error", err)
			}
		})
		if err != nil {
			panic(err)
		}
	}

	// Токен живёт 55 минут, обновляем каждые 50, чтобы воркеры заставали
	// тёплый кеш.
	addJob("@every 50m", "crm_token_refresh", crmClient.RefreshToken)
	addJob("0 3 * * *", "client_sync", syncService.SyncAllClients)
	addJob("30 3 * * *", "kiberons_sync", notificationService.SyncKiberons)
	addJob("0 8 * * *", "birthday_sweep", notificationService.NotifyBirthdays)
	addJob("0 9 * * *", "trial_lesson_sweep", func(ctx context.Context) error {
		_, err := notificationService.NotifyTrialLessons(ctx)
		return err
	})
	addJob("0 10 * * *", "balance_sweep", notificationService.NotifyLowBalance)

	return c
}

// broadcastCommandHandler разбирает "/broadcast [0|1|2] текст" и запускает
// рассылку в фоне.
func broadcastCommandHandler(broadcastService *broadcast.Service) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		source := update.Message.Text
		if source == "" {
			source = update.Message.Caption
		}
		text := strings.TrimSpace(strings.TrimPrefix(source, "/broadcast"))
		statusFilter := ""
		if len(text) > 1 && (text[0] == '0' || text[0] == '1' || text[0] == '2') && text[1] == ' ' {
			statusFilter = string(text[0])
			text = strings.TrimSpace(text[1:])
		}
		if text == "" {
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: update.Message.Chat.ID,
				Text:   "Использование: /broadcast [0|1|2] текст рассылки",
			})
			return
		}

		var photoID *string
		if len(update.Message.Photo) > 0 {
			id := update.Message.Photo[len(update.Message.Photo)-1].FileID
			photoID = &id
		}

		broadcastID, err := broadcastService.CreateBroadcast(ctx, statusFilter, text, photoID)
		if err != nil {
			slog.Error("Failed to create broadcast", "error", err)
			return
		}
		broadcastService.StartBroadcast(ctx, broadcastID, statusFilter, text, photoID)

		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   fmt.Sprintf("Рассылка #%d запущена", broadcastID),
		})
	}
}

// isCommand сверяет команду целиком: "/broadcast текст" подходит под
// "/broadcast", а "/broadcasts" — нет.
func isCommand(text, command string) bool {
	return text == command || strings.HasPrefix(text, command+" ")
}

// broadcastHistoryHandler показывает десять последних рассылок.
func broadcastHistoryHandler(broadcastService *broadcast.Service) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		history, err := broadcastService.History(ctx, 10, 0)
		if err != nil {
			slog.Error("Failed to load broadcast history", "error", err)
			return
		}
		if len(history) == 0 {
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: update.Message.Chat.ID,
				Text:   "Рассылок ещё не было",
			})
			return
		}

		var sb strings.Builder
		sb.WriteString("Последние рассылки:\n")
		for _, entry := range history {
			fmt.Fprintf(&sb, "#%d [%s] %s — отправлено %d/%d, ошибок %d\n",
				entry.ID, entry.Status, entry.CreatedAt.Format("02.01.2006 15:04"),
				entry.SentCount, entry.TotalCount, entry.FailedCount)
		}
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   sb.String(),
		})
	}
}

func isAdminMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		adminID := config.GetAdminTelegramId()

		if update.Message != nil && update.Message.From.ID == adminID {
			next(ctx, b, update)
			return
		}
		if update.CallbackQuery != nil && update.CallbackQuery.From.ID == adminID {
			next(ctx, b, update)
			return
		}
	}
}

func healthHandler(pool *pgxpool.Pool, tokenStore *tokencache.RedisStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"status": "ok",
			"db":     "ok",
			"redis":  "ok",
		}

		dbCtx, dbCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer dbCancel()
		if err := pool.Ping(dbCtx); err != nil {
			status["status"] = "fail"
			status["db"] = "error: " + err.Error()
		}

		redisCtx, redisCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer redisCancel()
		if err := tokenStore.Ping(redisCtx); err != nil {
			status["status"] = "fail"
			status["redis"] = "error: " + err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if status["status"] == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, `{"status":%q,"db":%q,"redis":%q,"time":%q,"version":%q}`,
			status["status"], status["db"], status["redis"], time.Now().Format(time.RFC3339), Version)
	})
}
