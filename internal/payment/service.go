package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type amountCalculator interface {
	AmountDue(ctx context.Context, branch, crmID int64, balance float64, from time.Time) (float64, error)
}

type invoiceGateway interface {
	CreateInvoice(ctx context.Context, accountNo string, amount float64, surname string) string
	ClearUnpaidInvoices(ctx context.Context, accountNo string) error
}

// ClientInfo — срез данных клиента, достаточный для выставления счёта.
type ClientInfo struct {
	CRMID    int64
	BranchID int64
	Name     string
	Balance  float64
}

// Service собирает платёжное сообщение: сумма из калькулятора, счёт из шлюза.
type Service struct {
	calc    amountCalculator
	gateway invoiceGateway
	titler  cases.Caser
}

func NewService(calc amountCalculator, gateway invoiceGateway) *Service {
	return &Service{
		calc:    calc,
		gateway: gateway,
		titler:  cases.Title(language.Russian),
	}
}

// AccountNo — номер лицевого счёта в шлюзе: "2-<crm_id>".
func AccountNo(crmID int64) string {
	return fmt.Sprintf("2-%d", crmID)
}

// PaymentMessage считает сумму к оплате, снимает старые неоплаченные счета,
// выставляет новый и форматирует сообщение для клиента.
func (s *Service) PaymentMessage(ctx context.Context, info ClientInfo) (string, error) {
	due, err := s.calc.AmountDue(ctx, info.BranchID, info.CRMID, info.Balance, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to calculate amount due for %d: %w", info.CRMID, err)
	}
	amount := round2(due + 0.001)

	accountNo := AccountNo(info.CRMID)
	if err := s.gateway.ClearUnpaidInvoices(ctx, accountNo); err != nil {
		slog.Warn("Failed to clear unpaid invoices", "account", accountNo, "error", err)
	}

	payURL := s.gateway.CreateInvoice(ctx, accountNo, amount, info.Name)

	message := fmt.Sprintf("ФИО: %s\nСумма к оплате: %s\nСсылка для оплаты: %s",
		s.titler.String(info.Name), formatAmount(amount), payURL)
	return message, nil
}
