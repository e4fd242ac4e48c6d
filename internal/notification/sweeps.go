package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
)

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type crmClient interface {
	TaughtTrialLessons(ctx context.Context, branch, customerID int64) (*alfacrm.Page[alfacrm.Lesson], error)
	BonusBalance(ctx context.Context, branch, customerID int64) (int, error)
}

type clientRepository interface {
	FindAllWithCRMID(ctx context.Context) ([]database.Client, error)
	FindWithLowPaidLessons(ctx context.Context) ([]database.Client, error)
	FindByBirthday(ctx context.Context, date time.Time) ([]database.Client, error)
	UpdateKiberons(ctx context.Context, id int64, kiberons int) error
}

type userRepository interface {
	FindOwners(ctx context.Context, clientID int64) ([]database.AppUser, error)
}

// Service — периодические обходы зеркала клиентов с пуш-уведомлениями.
// Обходы не координируются между собой и не оставляют отметок об отправке:
// повторный запуск по тем же данным отправит сообщения ещё раз.
type Service struct {
	telegramBot messenger
	crm         crmClient
	clients     clientRepository
	users       userRepository
}

func NewService(telegramBot messenger, crm crmClient, clients clientRepository, users userRepository) *Service {
	return &Service{telegramBot: telegramBot, crm: crm, clients: clients, users: users}
}

const balanceMessage = "🔔 Это PUSH уведомление о необходимости пополнить KIBERказну\n\n" +
	"Чтобы оплатить обучение KIBERone, нажмите на боковую кнопку Меню->КИБЕРменю->Оплатить\n\n" +
	"Ваш KIBERone!\n"

// NotifyLowBalance шлёт напоминание об оплате владельцам клиентов с
// paid_lesson_count < 1.
func (s *Service) NotifyLowBalance(ctx context.Context) error {
	clients, err := s.clients.FindWithLowPaidLessons(ctx)
	if err != nil {
		slog.Error("Failed to find clients with low balance", "error", err)
		return err
	}
	if len(clients) == 0 {
		return nil
	}

	sent := 0
	for _, client := range clients {
		for _, user := range s.owners(ctx, client.ID) {
			if err := s.send(ctx, user.TelegramID, balanceMessage); err != nil {
				slog.Error("Failed to send balance notification", "telegram_id", user.TelegramID, "error", err)
				continue
			}
			sent++
		}
	}

	slog.Info("Balance sweep finished", "clients", len(clients), "sent", sent)
	return nil
}

// TrialCheckResult — итог проверки пробных занятий одного клиента.
type TrialCheckResult struct {
	ClientID          int64
	CRMID             int64
	AttendedYesterday bool
	Checked           bool
}

// NotifyTrialLessons проверяет проведённые пробные занятия каждого клиента
// и уведомляет владельцев, если вчерашнее занятие было посещено. Сбой CRM по
// одному клиенту помечает его Checked=false и не прерывает обход.
func (s *Service) NotifyTrialLessons(ctx context.Context) ([]TrialCheckResult, error) {
	clients, err := s.clients.FindAllWithCRMID(ctx)
	if err != nil {
		slog.Error("Failed to list clients for trial sweep", "error", err)
		return nil, err
	}

	now := time.Now()
	var results []TrialCheckResult

	for _, client := range clients {
		result := TrialCheckResult{ClientID: client.ID, CRMID: client.CRMID}

		page, err := s.crm.TaughtTrialLessons(ctx, client.BranchID, client.CRMID)
		if err != nil {
			slog.Error("Failed to fetch trial lessons", "crm_id", client.CRMID, "error", err)
			results = append(results, result)
			continue
		}

		result.Checked = true
		result.AttendedYesterday = AttendedYesterday(page.Items, now)
		results = append(results, result)

		if !result.AttendedYesterday {
			continue
		}

		name := client.Name
		if name == "" {
			name = "Клиент"
		}
		message := fmt.Sprintf("🔔 Пробное занятие посещено\n\n"+
			"Ребёнок: %s\nДата: %s\n\n"+
			"Если всё понравилось, откройте в боте Меню -> RENDERIA меню, чтобы продолжить обучение.\n"+
			"Ваша RENDERIA!",
			name, now.AddDate(0, 0, -1).Format("02.01.2006"))

		for _, user := range s.owners(ctx, client.ID) {
			if err := s.send(ctx, user.TelegramID, message); err != nil {
				slog.Error("Failed to send trial notification", "telegram_id", user.TelegramID, "error", err)
			}
		}
	}

	slog.Info("Trial lesson sweep finished", "clients", len(clients))
	return results, nil
}

// AttendedYesterday — было ли среди уроков вчерашнее с отметкой посещения.
// Смотрит только первую запись details каждого урока, как и CRM-выгрузка.
func AttendedYesterday(lessons []alfacrm.Lesson, now time.Time) bool {
	yesterday := now.AddDate(0, 0, -1)
	for _, lesson := range lessons {
		if len(lesson.Details) == 0 {
			continue
		}
		if !bool(lesson.Details[0].IsAttend) {
			continue
		}
		date, err := alfacrm.ParseDate(lesson.Date)
		if err != nil || date.IsZero() {
			continue
		}
		if date.Year() == yesterday.Year() && date.YearDay() == yesterday.YearDay() {
			return true
		}
	}
	return false
}

// NotifyBirthdays поздравляет клиентов, у которых сегодня день рождения.
func (s *Service) NotifyBirthdays(ctx context.Context) error {
	clients, err := s.clients.FindByBirthday(ctx, time.Now())
	if err != nil {
		slog.Error("Failed to find birthday clients", "error", err)
		return err
	}

	for _, client := range clients {
		name := client.Name
		if name == "" {
			name = "Клиент"
		}
		message := fmt.Sprintf("🎉 С днём рождения, %s!\n\n"+
			"Команда KIBERone поздравляет вас и желает новых побед в мире IT.\n"+
			"Ваш KIBERone!", name)

		for _, user := range s.owners(ctx, client.ID) {
			if err := s.send(ctx, user.TelegramID, message); err != nil {
				slog.Error("Failed to send birthday notification", "telegram_id", user.TelegramID, "error", err)
			}
		}
	}

	slog.Info("Birthday sweep finished", "clients", len(clients))
	return nil
}

// SyncKiberons подтягивает баланс киберонов каждого клиента из CRM в зеркало.
func (s *Service) SyncKiberons(ctx context.Context) error {
	clients, err := s.clients.FindAllWithCRMID(ctx)
	if err != nil {
		return err
	}

	updated := 0
	for _, client := range clients {
		balance, err := s.crm.BonusBalance(ctx, client.BranchID, client.CRMID)
		if err != nil {
			slog.Warn("Failed to fetch kiberons balance", "crm_id", client.CRMID, "error", err)
			continue
		}
		if err := s.clients.UpdateKiberons(ctx, client.ID, balance); err != nil {
			slog.Error("Failed to store kiberons balance", "client_id", client.ID, "error", err)
			continue
		}
		updated++
	}

	slog.Info("Kiberons sweep finished", "clients", len(clients), "updated", updated)
	return nil
}

func (s *Service) owners(ctx context.Context, clientID int64) []database.AppUser {
	users, err := s.users.FindOwners(ctx, clientID)
	if err != nil {
		slog.Warn("Failed to load client owners", "client_id", clientID, "error", err)
		return nil
	}
	var withTelegram []database.AppUser
	for _, user := range users {
		if user.TelegramID != 0 {
			withTelegram = append(withTelegram, user)
		}
	}
	return withTelegram
}

func (s *Service) send(ctx context.Context, telegramID int64, text string) error {
	_, err := s.telegramBot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    telegramID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}
