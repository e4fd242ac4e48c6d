package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
	"kiberclub-bot/internal/payment"
)

type fakeCRM struct {
	page      *alfacrm.Page[alfacrm.Customer]
	searchErr error
	createdID int64
	createErr error
}

func (f *fakeCRM) FindCustomerByPhone(ctx context.Context, phone string) (*alfacrm.Page[alfacrm.Customer], error) {
	return f.page, f.searchErr
}

func (f *fakeCRM) CreateCustomer(ctx context.Context, user alfacrm.UserData) (int64, error) {
	return f.createdID, f.createErr
}

type fakeUsers struct {
	user *database.AppUser
	err  error
}

func (f *fakeUsers) FindByTelegramId(ctx context.Context, telegramID int64) (*database.AppUser, error) {
	return f.user, f.err
}

type fakeClients struct {
	clients []database.Client
	err     error
}

func (f *fakeClients) FindByUser(ctx context.Context, userID int64) ([]database.Client, error) {
	return f.clients, f.err
}

type fakePayments struct {
	message string
	err     error
}

func (f *fakePayments) PaymentMessage(ctx context.Context, info payment.ClientInfo) (string, error) {
	return f.message, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("non-JSON response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestSearchClients(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{page: &alfacrm.Page[alfacrm.Customer]{
		Total: 1, Count: 1,
		Items: []alfacrm.Customer{{ID: 42, Name: "Иванов"}},
	}}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.SearchClients, `{"phone":"+375291234567"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d success=%v", rec.Code, env.Success)
	}
}

func TestSearchClientsValidation(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.SearchClients, `{}`)
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Errorf("code=%d success=%v, want 400/false", rec.Code, env.Success)
	}
}

func TestSearchClientsNotFound(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{page: &alfacrm.Page[alfacrm.Customer]{}}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.SearchClients, `{"phone":"+375290000000"}`)
	if rec.Code != http.StatusNotFound || env.Success {
		t.Errorf("code=%d success=%v, want 404/false", rec.Code, env.Success)
	}
	if env.Message == "" {
		t.Error("error envelope must carry a message")
	}
}

func TestRegisterClient(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{createdID: 77}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.RegisterClient, `{"first_name":"Иван","last_name":"Иванов","phone":"+375291234567"}`)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("code=%d success=%v", rec.Code, env.Success)
	}

	var data struct {
		CRMID int64 `json:"crm_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CRMID != 77 {
		t.Errorf("data = %s", env.Data)
	}
}

func TestRegisterClientCRMFailure(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{createErr: errors.New("crm down")}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.RegisterClient, `{"first_name":"Иван","phone":"+375291234567"}`)
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Errorf("code=%d success=%v, want 400/false", rec.Code, env.Success)
	}
}

func TestPaymentData(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{},
		&fakeUsers{user: &database.AppUser{ID: 1, TelegramID: 555}},
		&fakeClients{clients: []database.Client{{ID: 1, CRMID: 42, BranchID: 1, Name: "Иванов"}}},
		&fakePayments{message: "ФИО: Иванов\nСумма к оплате: 75\nСсылка для оплаты: https://pay"})

	rec, env := doRequest(t, h.PaymentData, `{"telegram_id":555}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d success=%v", rec.Code, env.Success)
	}
	if !strings.Contains(string(env.Data), "Сумма к оплате") {
		t.Errorf("data = %s", env.Data)
	}
}

func TestPaymentDataUnknownUser(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	rec, env := doRequest(t, h.PaymentData, `{"telegram_id":555}`)
	if rec.Code != http.StatusNotFound || env.Success {
		t.Errorf("code=%d success=%v, want 404/false", rec.Code, env.Success)
	}
}

func TestPaymentDataCalculatorFailure(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{},
		&fakeUsers{user: &database.AppUser{ID: 1, TelegramID: 555}},
		&fakeClients{clients: []database.Client{{ID: 1, CRMID: 42, BranchID: 1}}},
		&fakePayments{err: errors.New("unresolved")})

	rec, env := doRequest(t, h.PaymentData, `{"telegram_id":555}`)
	if rec.Code != http.StatusInternalServerError || env.Success {
		t.Errorf("code=%d success=%v, want 500/false", rec.Code, env.Success)
	}
}

func TestBalances(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{},
		&fakeUsers{user: &database.AppUser{ID: 1, TelegramID: 555}},
		&fakeClients{clients: []database.Client{
			{ID: 1, CRMID: 42, Name: "Иванов", Balance: -25, PaidLessonCount: 2, Kiberons: 120},
		}},
		&fakePayments{})

	rec, env := doRequest(t, h.Balances, `{"telegram_id":555}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("code=%d success=%v", rec.Code, env.Success)
	}

	var entries []struct {
		CRMID    int64 `json:"crm_id"`
		Kiberons int   `json:"kiberons"`
	}
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("bad data %s: %v", env.Data, err)
	}
	if len(entries) != 1 || entries[0].Kiberons != 120 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewAPIHandler(&fakeCRM{}, &fakeUsers{}, &fakeClients{}, &fakePayments{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.SearchClients(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}
