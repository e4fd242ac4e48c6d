package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
	"kiberclub-bot/internal/payment"
)

type crmClient interface {
	FindCustomerByPhone(ctx context.Context, phone string) (*alfacrm.Page[alfacrm.Customer], error)
	CreateCustomer(ctx context.Context, user alfacrm.UserData) (int64, error)
}

type userRepository interface {
	FindByTelegramId(ctx context.Context, telegramID int64) (*database.AppUser, error)
}

type clientRepository interface {
	FindByUser(ctx context.Context, userID int64) ([]database.Client, error)
}

type paymentService interface {
	PaymentMessage(ctx context.Context, info payment.ClientInfo) (string, error)
}

// APIHandler отдаёт REST-срез данных для мини-аппа и внешних интеграций.
// Все ответы в конверте {"success": bool, ...}: успех несёт data, отказ —
// message.
type APIHandler struct {
	crm      crmClient
	users    userRepository
	clients  clientRepository
	payments paymentService
}

func NewAPIHandler(crm crmClient, users userRepository, clients clientRepository, payments paymentService) *APIHandler {
	return &APIHandler{crm: crm, users: users, clients: clients, payments: payments}
}

func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/clients/search", h.SearchClients)
	mux.HandleFunc("/api/clients/register", h.RegisterClient)
	mux.HandleFunc("/api/payment-data", h.PaymentData)
	mux.HandleFunc("/api/balances", h.Balances)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

// SearchClients ищет клиента в CRM по номеру телефона.
func (h *APIHandler) SearchClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Метод не поддерживается")
		return
	}

	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "Номер телефона обязателен")
		return
	}

	page, err := h.crm.FindCustomerByPhone(r.Context(), req.Phone)
	if err != nil {
		slog.Error("Phone search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Ошибка при поиске пользователя")
		return
	}
	if page.Total == 0 {
		writeError(w, http.StatusNotFound, "Пользователь не найден в CRM")
		return
	}

	writeData(w, http.StatusOK, page.Items)
}

// RegisterClient заводит лида в CRM.
func (h *APIHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Метод не поддерживается")
		return
	}

	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FirstName == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "Не все обязательные поля указаны")
		return
	}

	id, err := h.crm.CreateCustomer(r.Context(), alfacrm.UserData{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Username:    req.Username,
		PhoneNumber: req.Phone,
	})
	if err != nil {
		slog.Error("CRM registration failed", "error", err)
		writeError(w, http.StatusBadRequest, "Ошибка при регистрации в CRM")
		return
	}

	writeData(w, http.StatusCreated, map[string]any{"crm_id": id})
}

// PaymentData собирает платёжные сообщения по всем клиентам пользователя.
func (h *APIHandler) PaymentData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Метод не поддерживается")
		return
	}

	user, clients, ok := h.userClients(w, r)
	if !ok {
		return
	}

	type paymentEntry struct {
		ClientID int64  `json:"client_id"`
		CRMID    int64  `json:"crm_id"`
		Name     string `json:"name"`
		Message  string `json:"message"`
	}

	var entries []paymentEntry
	for _, client := range clients {
		message, err := h.payments.PaymentMessage(r.Context(), payment.ClientInfo{
			CRMID:    client.CRMID,
			BranchID: client.BranchID,
			Name:     client.Name,
			Balance:  client.Balance,
		})
		if err != nil {
			slog.Error("Failed to build payment message", "crm_id", client.CRMID, "error", err)
			writeError(w, http.StatusInternalServerError, "Ошибка при расчёте суммы к оплате")
			return
		}
		entries = append(entries, paymentEntry{
			ClientID: client.ID,
			CRMID:    client.CRMID,
			Name:     client.Name,
			Message:  message,
		})
	}

	slog.Info("Payment data served", "user_id", user.ID, "clients", len(entries))
	writeData(w, http.StatusOK, entries)
}

// Balances — балансы и кибероны клиентов пользователя из локального зеркала.
func (h *APIHandler) Balances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Метод не поддерживается")
		return
	}

	_, clients, ok := h.userClients(w, r)
	if !ok {
		return
	}

	type balanceEntry struct {
		ClientID        int64   `json:"client_id"`
		CRMID           int64   `json:"crm_id"`
		Name            string  `json:"name"`
		Balance         float64 `json:"balance"`
		PaidLessonCount int     `json:"paid_lesson_count"`
		Kiberons        int     `json:"kiberons"`
	}

	entries := make([]balanceEntry, 0, len(clients))
	for _, client := range clients {
		entries = append(entries, balanceEntry{
			ClientID:        client.ID,
			CRMID:           client.CRMID,
			Name:            client.Name,
			Balance:         client.Balance,
			PaidLessonCount: client.PaidLessonCount,
			Kiberons:        client.Kiberons,
		})
	}

	writeData(w, http.StatusOK, entries)
}

// userClients резолвит пользователя по telegram_id из тела запроса и его
// клиентов. При отказе сам пишет ответ и возвращает ok=false.
func (h *APIHandler) userClients(w http.ResponseWriter, r *http.Request) (*database.AppUser, []database.Client, bool) {
	var req struct {
		TelegramID int64 `json:"telegram_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == 0 {
		writeError(w, http.StatusBadRequest, "telegram_id обязателен")
		return nil, nil, false
	}

	user, err := h.users.FindByTelegramId(r.Context(), req.TelegramID)
	if err != nil {
		slog.Error("Failed to find user", "error", err)
		writeError(w, http.StatusInternalServerError, "Ошибка при поиске пользователя")
		return nil, nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "Пользователь не найден")
		return nil, nil, false
	}

	clients, err := h.clients.FindByUser(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to load user clients", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Ошибка при загрузке клиентов")
		return nil, nil, false
	}

	return user, clients, true
}
