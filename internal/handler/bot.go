package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
	"kiberclub-bot/internal/payment"
	"kiberclub-bot/utils"
)

const (
	CallbackPay      = "pay"
	CallbackBalances = "balances"
)

type botUserRepository interface {
	FindByTelegramId(ctx context.Context, telegramID int64) (*database.AppUser, error)
	FindOrCreate(ctx context.Context, user *database.AppUser) (*database.AppUser, error)
	UpdateFields(ctx context.Context, id int64, updates map[string]interface{}) error
	LinkClient(ctx context.Context, userID, clientID int64) error
}

type botClientRepository interface {
	FindByUser(ctx context.Context, userID int64) ([]database.Client, error)
	FindOrCreate(ctx context.Context, client *database.Client) (*database.Client, error)
}

// BotHandler обслуживает диалог с пользователем: /start, привязку клиентов
// по номеру телефона и кнопки КИБЕРменю.
type BotHandler struct {
	users    botUserRepository
	clients  botClientRepository
	crm      crmClient
	payments paymentService
}

func NewBotHandler(users botUserRepository, clients botClientRepository, crm crmClient, payments paymentService) *BotHandler {
	return &BotHandler{users: users, clients: clients, crm: crm, payments: payments}
}

func (h *BotHandler) StartCommandHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	ctxWithTime, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var username *string
	if update.Message.From.Username != "" {
		username = &update.Message.From.Username
	}

	user, err := h.users.FindOrCreate(ctxWithTime, &database.AppUser{
		TelegramID: update.Message.Chat.ID,
		Username:   username,
	})
	if err != nil {
		slog.Error("error creating user", "error", err)
		return
	}

	if user.Phone == nil {
		h.askForPhone(ctx, b, update.Message.Chat.ID)
		return
	}

	h.sendMenu(ctx, b, update.Message.Chat.ID)
}

func (h *BotHandler) askForPhone(ctx context.Context, b *bot.Bot, chatID int64) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Поделитесь номером телефона, чтобы мы нашли вас в KIBERone.",
		ReplyMarkup: models.ReplyKeyboardMarkup{
			Keyboard: [][]models.KeyboardButton{{
				{Text: "📱 Отправить номер", RequestContact: true},
			}},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		},
	})
	if err != nil {
		slog.Error("Error sending phone request", "error", err)
	}
}

// ContactHandler принимает номер телефона, ищет клиентов в CRM и привязывает
// найденных к пользователю.
func (h *BotHandler) ContactHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	contact := update.Message.Contact
	if contact == nil {
		return
	}
	chatID := update.Message.Chat.ID

	user, err := h.users.FindByTelegramId(ctx, chatID)
	if err != nil || user == nil {
		slog.Error("error finding user for contact", "error", err)
		return
	}

	if err := h.users.UpdateFields(ctx, user.ID, map[string]interface{}{"phone": contact.PhoneNumber}); err != nil {
		slog.Error("error saving phone", "error", err)
	}

	page, err := h.crm.FindCustomerByPhone(ctx, contact.PhoneNumber)
	if err != nil {
		slog.Error("CRM phone search failed", "error", err)
	}

	linked := 0
	if page != nil {
		for _, customer := range page.Items {
			branchID := int64(1)
			if len(customer.BranchIds) > 0 {
				branchID = customer.BranchIds[0]
			}
			client, err := h.clients.FindOrCreate(ctx, &database.Client{
				CRMID:    customer.ID,
				BranchID: branchID,
				Name:     customer.Name,
				IsStudy:  int(customer.IsStudy) == alfacrm.StudyStatusClient,
			})
			if err != nil {
				slog.Error("error mirroring client", "crm_id", customer.ID, "error", err)
				continue
			}
			if err := h.users.LinkClient(ctx, user.ID, client.ID); err != nil {
				slog.Error("error linking client", "client_id", client.ID, "error", err)
				continue
			}
			linked++
		}
	}

	slog.Info("Contact processed", "telegramId", utils.MaskHalfInt64(chatID), "linked", linked)

	if linked == 0 {
		_, err = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Мы не нашли вас в CRM. Оставьте заявку на сайте или напишите администратору.",
		})
		if err != nil {
			slog.Error("Error sending not-found message", "error", err)
		}
		return
	}

	h.sendMenu(ctx, b, chatID)
}

func (h *BotHandler) sendMenu(ctx context.Context, b *bot.Bot, chatID int64) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "КИБЕРменю",
		ReplyMarkup: models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: "💳 Оплатить", CallbackData: CallbackPay}},
				{{Text: "💰 Балансы", CallbackData: CallbackBalances}},
			},
		},
	})
	if err != nil {
		slog.Error("Error sending menu", "error", err)
	}
}

// PayCallbackHandler отправляет платёжное сообщение по каждому клиенту
// пользователя.
func (h *BotHandler) PayCallbackHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := update.CallbackQuery.From.ID
	h.answerCallback(ctx, b, update.CallbackQuery.ID)

	user, clients, ok := h.resolveClients(ctx, b, chatID)
	if !ok {
		return
	}

	for _, client := range clients {
		message, err := h.payments.PaymentMessage(ctx, payment.ClientInfo{
			CRMID:    client.CRMID,
			BranchID: client.BranchID,
			Name:     client.Name,
			Balance:  client.Balance,
		})
		if err != nil {
			slog.Error("Failed to build payment message", "crm_id", client.CRMID, "error", err)
			continue
		}
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: message}); err != nil {
			slog.Error("Error sending payment message", "error", err)
		}
	}

	slog.Info("Payment messages sent", "user_id", user.ID, "clients", len(clients))
}

// BalancesCallbackHandler показывает балансы из локального зеркала.
func (h *BotHandler) BalancesCallbackHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := update.CallbackQuery.From.ID
	h.answerCallback(ctx, b, update.CallbackQuery.ID)

	_, clients, ok := h.resolveClients(ctx, b, chatID)
	if !ok {
		return
	}

	for _, client := range clients {
		text := fmt.Sprintf("%s\nБаланс: %.2f\nОплаченных занятий: %d\nКиберонов: %d",
			client.Name, client.Balance, client.PaidLessonCount, client.Kiberons)
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			slog.Error("Error sending balance message", "error", err)
		}
	}
}

func (h *BotHandler) resolveClients(ctx context.Context, b *bot.Bot, chatID int64) (*database.AppUser, []database.Client, bool) {
	user, err := h.users.FindByTelegramId(ctx, chatID)
	if err != nil || user == nil {
		slog.Error("error finding user for callback", "error", err)
		return nil, nil, false
	}

	clients, err := h.clients.FindByUser(ctx, user.ID)
	if err != nil {
		slog.Error("error loading user clients", "error", err)
		return nil, nil, false
	}
	if len(clients) == 0 {
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "К вашему аккаунту не привязан ни один клиент. Отправьте /start.",
		}); err != nil {
			slog.Error("Error sending no-clients message", "error", err)
		}
		return nil, nil, false
	}

	return user, clients, true
}

func (h *BotHandler) answerCallback(ctx context.Context, b *bot.Bot, callbackID string) {
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}); err != nil {
		slog.Error("Error answering callback", "error", err)
	}
}
