package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Числовой код валюты BYN по ISO 4217.
const currencyCode = "933"

type Invoice struct {
	InvoiceNo int64  `json:"InvoiceNo"`
	AccountNo string `json:"AccountNo"`
	Status    int    `json:"Status"`
}

type invoicesResponse struct {
	Items []Invoice `json:"Items"`
}

type createInvoiceResponse struct {
	InvoiceURL string `json:"InvoiceUrl"`
}

// GatewayClient — клиент платёжного шлюза ExpressPay. Каждый запрос несёт
// HMAC-SHA1 подпись, посчитанную по склеенным без разделителей значениям
// полей в объявленном порядке.
type GatewayClient struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	signatureKey  string
	defaultPayURL string
}

func NewGatewayClient(baseURL, token, signatureKey, defaultPayURL string) *GatewayClient {
	return &GatewayClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:       baseURL,
		token:         token,
		signatureKey:  signatureKey,
		defaultPayURL: defaultPayURL,
	}
}

// Signature — верхний регистр hex от HMAC-SHA1 с общим секретом.
// Детерминирована: одинаковый вход всегда даёт одинаковую подпись.
func (c *GatewayClient) Signature(data string) string {
	mac := hmac.New(sha1.New, []byte(c.signatureKey))
	mac.Write([]byte(data))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

type field struct {
	key   string
	value string
}

func (c *GatewayClient) sign(fields []field) (url.Values, string) {
	var raw strings.Builder
	form := url.Values{}
	for _, f := range fields {
		raw.WriteString(f.value)
		form.Set(f.key, f.value)
	}
	signature := c.Signature(raw.String())
	form.Set("signature", signature)
	return form, signature
}

// CreateInvoice выставляет счёт и возвращает ссылку на платёжную страницу.
// Любой отказ шлюза сворачивается в настроенную ссылку по умолчанию.
func (c *GatewayClient) CreateInvoice(ctx context.Context, accountNo string, amount float64, surname string) string {
	fields := []field{
		{"Token", c.token},
		{"AccountNo", accountNo},
		{"Amount", formatAmount(amount)},
		{"Currency", currencyCode},
		{"Surname", surname},
		{"FirstName", ""},
		{"Patronymic", ""},
		{"IsNameEditable", "1"},
		{"IsAmountEditable", "0"},
		{"ReturnInvoiceUrl", "1"},
	}
	form, _ := c.sign(fields)

	endpoint := c.baseURL + "invoices?token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("Failed to create invoice request", "error", err)
		return c.defaultPayURL
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Invoice request failed", "account", accountNo, "error", err)
		return c.defaultPayURL
	}
	defer resp.Body.Close()

	var created createInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.InvoiceURL == "" {
		slog.Warn("Gateway returned no invoice url, using default", "account", accountNo, "status", resp.StatusCode, "error", err)
		return c.defaultPayURL
	}
	return created.InvoiceURL
}

// UnpaidInvoices — счета со статусом 1 (ожидают оплаты) по лицевому счёту.
func (c *GatewayClient) UnpaidInvoices(ctx context.Context, accountNo string) ([]Invoice, error) {
	fields := []field{
		{"Token", c.token},
		{"AccountNo", accountNo},
		{"Status", "1"},
	}
	_, signature := c.sign(fields)

	endpoint := fmt.Sprintf("%sinvoices?token=%s&AccountNo=%s&Status=1&signature=%s",
		c.baseURL, url.QueryEscape(c.token), url.QueryEscape(accountNo), signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoices request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoices request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for invoice listing", resp.StatusCode)
	}

	var listing invoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode invoice listing: %w", err)
	}
	return listing.Items, nil
}

// ClearUnpaidInvoices удаляет все неоплаченные счета лицевого счёта, каждый —
// со своей подписью по его собственному порядку полей. Отказ по одному счёту
// не прерывает остальные.
func (c *GatewayClient) ClearUnpaidInvoices(ctx context.Context, accountNo string) error {
	invoices, err := c.UnpaidInvoices(ctx, accountNo)
	if err != nil {
		return err
	}

	for _, invoice := range invoices {
		no := strconv.FormatInt(invoice.InvoiceNo, 10)
		fields := []field{
			{"Token", c.token},
			{"InvoiceNo", no},
		}
		_, signature := c.sign(fields)

		endpoint := fmt.Sprintf("%sinvoices/%s?token=%s&InvoiceNo=%s&signature=%s",
			c.baseURL, no, url.QueryEscape(c.token), no, signature)

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			slog.Error("Failed to create invoice delete request", "invoice", no, "error", err)
			continue
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Error("Failed to delete invoice", "invoice", no, "error", err)
			continue
		}
		resp.Body.Close()
		slog.Info("Deleted unpaid invoice", "invoice", no, "account", accountNo, "status", resp.StatusCode)
	}
	return nil
}

// formatAmount рендерит сумму с двумя десятичными, как в выгрузках шлюза.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
