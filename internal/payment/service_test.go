package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubCalculator struct {
	due float64
	err error
}

func (s *stubCalculator) AmountDue(ctx context.Context, branch, crmID int64, balance float64, from time.Time) (float64, error) {
	return s.due, s.err
}

type stubGateway struct {
	clearedAccounts []string
	createdAccounts []string
	createdAmounts  []float64
	clearErr        error
	payURL          string
}

func (s *stubGateway) CreateInvoice(ctx context.Context, accountNo string, amount float64, surname string) string {
	s.createdAccounts = append(s.createdAccounts, accountNo)
	s.createdAmounts = append(s.createdAmounts, amount)
	return s.payURL
}

func (s *stubGateway) ClearUnpaidInvoices(ctx context.Context, accountNo string) error {
	s.clearedAccounts = append(s.clearedAccounts, accountNo)
	return s.clearErr
}

func TestPaymentMessage(t *testing.T) {
	gateway := &stubGateway{payURL: "https://pay.gw/i/9"}
	service := NewService(&stubCalculator{due: 74.999}, gateway)

	message, err := service.PaymentMessage(context.Background(), ClientInfo{
		CRMID:    42,
		BranchID: 1,
		Name:     "иванов иван",
		Balance:  25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.clearedAccounts) != 1 || gateway.clearedAccounts[0] != "2-42" {
		t.Errorf("cleared accounts = %v, want [2-42]", gateway.clearedAccounts)
	}
	if len(gateway.createdAmounts) != 1 || gateway.createdAmounts[0] != 75 {
		t.Errorf("created amounts = %v, want [75]", gateway.createdAmounts)
	}
	if !strings.Contains(message, "Иванов Иван") {
		t.Errorf("message must contain title-cased name: %q", message)
	}
	if !strings.Contains(message, "https://pay.gw/i/9") {
		t.Errorf("message must contain pay url: %q", message)
	}
	if !strings.Contains(message, "Сумма к оплате: 75.00") {
		t.Errorf("message must contain amount: %q", message)
	}
}

// Отказ очистки старых счетов не блокирует выставление нового.
func TestPaymentMessageSurvivesClearFailure(t *testing.T) {
	gateway := &stubGateway{payURL: "https://pay.gw/i/9", clearErr: errors.New("gateway down")}
	service := NewService(&stubCalculator{due: 10}, gateway)

	_, err := service.PaymentMessage(context.Background(), ClientInfo{CRMID: 1, BranchID: 1, Name: "Тест"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gateway.createdAccounts) != 1 {
		t.Error("invoice must still be created")
	}
}

func TestPaymentMessageCalculatorError(t *testing.T) {
	gateway := &stubGateway{}
	service := NewService(&stubCalculator{err: ErrUnresolved}, gateway)

	_, err := service.PaymentMessage(context.Background(), ClientInfo{CRMID: 1, BranchID: 1})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if len(gateway.createdAccounts) != 0 {
		t.Error("no invoice on calculator failure")
	}
}

func TestAccountNo(t *testing.T) {
	if got := AccountNo(42); got != "2-42" {
		t.Errorf("AccountNo(42) = %q", got)
	}
}
