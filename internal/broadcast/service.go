package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"kiberclub-bot/internal/database"
)

// Пауза секунда после каждых 30 сообщений, под лимит Telegram ~30 msg/sec.
const (
	throttleBatch = 30
	throttlePause = time.Second
)

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

type userRepository interface {
	FindByStatus(ctx context.Context, statuses []string) ([]database.AppUser, error)
}

type broadcastRepository interface {
	Create(ctx context.Context, targetStatus, messageText string, photoID *string) (int64, error)
	SetTotalCount(ctx context.Context, id int64, total int) error
	UpdateProgress(ctx context.Context, id int64, sentCount, failedCount int) error
	UpdateStatus(ctx context.Context, id int64, status string, sentCount, failedCount int) error
	List(ctx context.Context, limit, offset int) ([]database.BroadcastHistory, error)
}

// Service рассылает сообщение пользователям бота, отфильтрованным по статусу.
// Пустой фильтр означает всех пользователей.
type Service struct {
	telegramBot       messenger
	users             userRepository
	broadcasts        broadcastRepository
	mu                sync.Mutex
	runningBroadcasts map[int64]bool
}

func NewService(telegramBot messenger, users userRepository, broadcasts broadcastRepository) *Service {
	return &Service{
		telegramBot:       telegramBot,
		users:             users,
		broadcasts:        broadcasts,
		runningBroadcasts: make(map[int64]bool),
	}
}

func (s *Service) CreateBroadcast(ctx context.Context, statusFilter, messageText string, photoID *string) (int64, error) {
	return s.broadcasts.Create(ctx, statusFilter, messageText, photoID)
}

// StartBroadcast запускает рассылку в фоне. Повторный запуск той же рассылки
// игнорируется, пока первая не завершится.
func (s *Service) StartBroadcast(ctx context.Context, broadcastID int64, statusFilter, messageText string, photoID *string) {
	s.mu.Lock()
	if s.runningBroadcasts[broadcastID] {
		s.mu.Unlock()
		slog.Warn("Broadcast already running", "id", broadcastID)
		return
	}
	s.runningBroadcasts[broadcastID] = true
	s.mu.Unlock()

	runID := uuid.New()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in broadcast", "panic", r, "id", broadcastID, "run", runID)
				bgCtx := context.Background()
				_ = s.broadcasts.UpdateStatus(bgCtx, broadcastID, string(database.BroadcastStatusFailed), 0, 0)
			}
			s.mu.Lock()
			delete(s.runningBroadcasts, broadcastID)
			s.mu.Unlock()
		}()

		// Рассылка переживает исходный запрос, поэтому свой контекст.
		bgCtx := context.Background()
		if err := s.executeBroadcast(bgCtx, runID, broadcastID, statusFilter, messageText, photoID); err != nil {
			slog.Error("Broadcast execution failed", "error", err, "id", broadcastID, "run", runID)
		}
	}()
}

func (s *Service) executeBroadcast(ctx context.Context, runID uuid.UUID, broadcastID int64, statusFilter, messageText string, photoID *string) error {
	users, err := s.targetUsers(ctx, statusFilter)
	if err != nil {
		_ = s.broadcasts.UpdateStatus(ctx, broadcastID, string(database.BroadcastStatusFailed), 0, 0)
		return fmt.Errorf("failed to get broadcast recipients: %w", err)
	}

	totalCount := len(users)
	if err := s.broadcasts.SetTotalCount(ctx, broadcastID, totalCount); err != nil {
		return fmt.Errorf("failed to set total count: %w", err)
	}

	if totalCount == 0 {
		_ = s.broadcasts.UpdateStatus(ctx, broadcastID, string(database.BroadcastStatusCompleted), 0, 0)
		return nil
	}

	slog.Info("Broadcast started", "id", broadcastID, "run", runID, "recipients", totalCount)

	sentCount := 0
	failedCount := 0

	for i, user := range users {
		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		sendErr := s.sendTo(sendCtx, user.TelegramID, messageText, photoID)
		cancel()

		if sendErr != nil {
			failedCount++
		} else {
			sentCount++
		}

		if (i+1)%10 == 0 {
			_ = s.broadcasts.UpdateProgress(ctx, broadcastID, sentCount, failedCount)
		}
		if (i+1)%throttleBatch == 0 {
			time.Sleep(throttlePause)
		}
	}

	status := string(database.BroadcastStatusCompleted)
	if failedCount > 0 {
		status = string(database.BroadcastStatusPartial)
	}

	if err := s.broadcasts.UpdateStatus(ctx, broadcastID, status, sentCount, failedCount); err != nil {
		return fmt.Errorf("failed to update final status: %w", err)
	}

	slog.Info("Broadcast completed",
		"id", broadcastID,
		"run", runID,
		"sent", sentCount,
		"failed", failedCount,
		"total", totalCount,
	)
	return nil
}

func (s *Service) sendTo(ctx context.Context, telegramID int64, text string, photoID *string) error {
	if photoID != nil && *photoID != "" {
		_, err := s.telegramBot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    telegramID,
			Photo:     &models.InputFileString{Data: *photoID},
			Caption:   text,
			ParseMode: models.ParseModeHTML,
		})
		return err
	}

	_, err := s.telegramBot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    telegramID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

func (s *Service) targetUsers(ctx context.Context, statusFilter string) ([]database.AppUser, error) {
	statuses := []string{database.UserStatusNone, database.UserStatusScheduled, database.UserStatusStudying}
	if statusFilter != "" {
		statuses = []string{statusFilter}
	}

	users, err := s.users.FindByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}

	var withTelegram []database.AppUser
	for _, user := range users {
		if user.TelegramID != 0 {
			withTelegram = append(withTelegram, user)
		}
	}
	return withTelegram, nil
}

func (s *Service) History(ctx context.Context, limit, offset int) ([]database.BroadcastHistory, error) {
	return s.broadcasts.List(ctx, limit, offset)
}
