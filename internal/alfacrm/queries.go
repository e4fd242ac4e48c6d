package alfacrm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Параллелизм фан-аута поиска по телефону: не больше двух одновременных
// запросов к CRM.
const searchConcurrency = 2

// UserData — данные регистрации нового клиента из Telegram.
type UserData struct {
	FirstName   string
	LastName    string
	Username    string
	PhoneNumber string
}

// FindCustomerByPhone опрашивает все комбинации {филиал, лид/клиент}
// и сливает ответы: суммы totals/counts, конкатенация items. Отказ отдельного
// запроса логируется и пропускается — итог всегда возвращается.
func (c *Client) FindCustomerByPhone(ctx context.Context, phone string) (*Page[Customer], error) {
	type task struct {
		branch int64
		status int
	}

	var tasks []task
	for _, status := range []int{StudyStatusLead, StudyStatusClient} {
		for _, branch := range c.branches {
			tasks = append(tasks, task{branch: branch, status: status})
		}
	}

	merged := &Page[Customer]{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, searchConcurrency)

	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			page, err := callInto[Page[Customer]](ctx, c, t.branch, "customer", "index", map[string]any{
				"is_study": t.status,
				"page":     0,
				"phone":    phone,
			}, nil)
			if err != nil {
				slog.Warn("Phone search request failed", "branch", t.branch, "is_study", t.status, "error", err)
				return
			}

			mu.Lock()
			merged.Total += page.Total
			merged.Count += page.Count
			merged.Items = append(merged.Items, page.Items...)
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	return merged, nil
}

// CreateCustomer заводит лида в первом настроенном филиале.
func (c *Client) CreateCustomer(ctx context.Context, user UserData) (int64, error) {
	branch := c.branches[0]
	name := fmt.Sprintf("%s %s | %s", user.FirstName, user.LastName, user.Username)

	resp, err := callInto[createResponse](ctx, c, branch, "customer", "create", map[string]any{
		"name":       name,
		"phone":      user.PhoneNumber,
		"branch_ids": branch,
		"legal_type": 1,
		"is_study":   StudyStatusLead,
		"note":       "created by Telegram BOT",
	}, nil)
	if err != nil {
		return 0, err
	}
	slog.Info("Created customer in CRM", "id", resp.ID, "branch", branch)
	return resp.ID, nil
}

// FindCustomerByID ищет клиента без фильтра по статусу обучения.
// found=false означает подтверждённое отсутствие записи, а не сбой.
func (c *Client) FindCustomerByID(ctx context.Context, branch, crmID int64) (*Customer, bool, error) {
	page, err := callInto[Page[Customer]](ctx, c, branch, "customer", "index", map[string]any{
		"id":       crmID,
		"is_study": StudyStatusAny,
		"page":     0,
	}, nil)
	if err != nil {
		return nil, false, err
	}
	if len(page.Items) == 0 {
		return nil, false, nil
	}
	if len(page.Items) > 1 {
		slog.Warn("Multiple customers match one CRM id, using first", "crm_id", crmID, "count", len(page.Items))
	}
	return &page.Items[0], true, nil
}

// CustomerLessons — одна страница уроков клиента с фильтром по статусу и типу.
func (c *Client) CustomerLessons(ctx context.Context, branch, customerID int64, page, status, lessonType int) (*Page[Lesson], error) {
	return callInto[Page[Lesson]](ctx, c, branch, "lesson", "index", map[string]any{
		"customer_id":    customerID,
		"status":         status,
		"lesson_type_id": lessonType,
		"page":           page,
	}, nil)
}

// TaughtTrialLessons — проведённые пробные уроки клиента.
func (c *Client) TaughtTrialLessons(ctx context.Context, branch, customerID int64) (*Page[Lesson], error) {
	return callInto[Page[Lesson]](ctx, c, branch, "lesson", "index", map[string]any{
		"customer_id":    customerID,
		"status":         LessonStatusTaught,
		"lesson_type_id": LessonTypeTrial,
	}, nil)
}

// TariffPrice сканирует справочник тарифов постранично в поисках цены.
// Не найден — цена 0, как в исходной интеграции.
func (c *Client) TariffPrice(ctx context.Context, branch, tariffID int64) (float64, error) {
	resp, err := callInto[Page[Tariff]](ctx, c, branch, "tariff", "index", map[string]any{"page": 0}, nil)
	if err != nil {
		return 0, err
	}

	lastPage := LastPage(resp.Total, resp.Count)
	items := resp.Items
	for page := 0; page <= lastPage; page++ {
		for _, tariff := range items {
			if tariff.ID == tariffID {
				return float64(tariff.Price), nil
			}
		}
		next, err := callInto[Page[Tariff]](ctx, c, branch, "tariff", "index", map[string]any{"page": page + 1}, nil)
		if err != nil {
			return 0, err
		}
		items = next.Items
	}
	return 0, nil
}

// CurrentDiscount возвращает процент скидки, действующей на дату.
// Обход страниц повторяет исходник, включая строгое page < lastPage.
func (c *Client) CurrentDiscount(ctx context.Context, branch, customerID int64, date time.Time) (float64, error) {
	resp, err := callInto[Page[Discount]](ctx, c, branch, "discount", "index", map[string]any{
		"customer_id": customerID,
		"page":        0,
	}, nil)
	if err != nil {
		return 0, err
	}

	lastPage := LastPage(resp.Total, resp.Count)
	items := resp.Items
	for page := 0; page < lastPage; page++ {
		sort.SliceStable(items, func(i, j int) bool {
			a, _ := ParseDate(items[i].End)
			b, _ := ParseDate(items[j].End)
			return a.Before(b)
		})
		for _, d := range items {
			begin, err := ParseDate(d.Begin)
			if err != nil {
				continue
			}
			end, err := ParseDate(d.End)
			if err != nil {
				continue
			}
			if withinWindow(date, begin, end) {
				return float64(d.Amount), nil
			}
		}
		next, err := callInto[Page[Discount]](ctx, c, branch, "discount", "index", map[string]any{
			"customer_id": customerID,
			"page":        page + 1,
		}, nil)
		if err != nil {
			return 0, err
		}
		items = next.Items
	}
	return 0, nil
}

// CurrentTariff резолвит тариф, чьё окно действия накрывает дату, и
// записывает в него цену с учётом скидки: price * (1 - discount/100).
func (c *Client) CurrentTariff(ctx context.Context, branch, customerID int64, date time.Time) (*CustomerTariff, error) {
	query := url.Values{"customer_id": []string{strconv.FormatInt(customerID, 10)}}
	page, err := callInto[Page[CustomerTariff]](ctx, c, branch, "customer-tariff", "index", map[string]any{}, query)
	if err != nil {
		return nil, err
	}

	tariffs := page.Items
	sort.SliceStable(tariffs, func(i, j int) bool {
		a, _ := ParseDate(tariffs[i].EndDate)
		b, _ := ParseDate(tariffs[j].EndDate)
		return a.Before(b)
	})

	for _, tariff := range tariffs {
		begin, err := ParseDate(tariff.BeginDate)
		if err != nil {
			continue
		}
		end, err := ParseDate(tariff.EndDate)
		if err != nil {
			continue
		}
		if !withinWindow(date, begin, end) {
			continue
		}

		price, err := c.TariffPrice(ctx, branch, tariff.TariffID)
		if err != nil {
			return nil, err
		}
		discount, err := c.CurrentDiscount(ctx, branch, customerID, date)
		if err != nil {
			return nil, err
		}
		tariff.Price = price * (1 - discount/100)
		return &tariff, nil
	}
	return nil, ErrNotFound
}

// BonusBalance — текущий баланс киберонов клиента.
func (c *Client) BonusBalance(ctx context.Context, branch, customerID int64) (int, error) {
	query := url.Values{"customer_id": []string{strconv.FormatInt(customerID, 10)}}
	resp, err := callInto[bonusBalanceResponse](ctx, c, branch, "bonus", "balance-bonus", nil, query)
	if err != nil {
		return 0, err
	}
	return int(resp.BalanceBonus), nil
}

// AddBonus начисляет клиенту кибероны.
func (c *Client) AddBonus(ctx context.Context, branch, customerID int64, amount int) error {
	query := url.Values{"customer_id": []string{strconv.FormatInt(customerID, 10)}}
	_, err := c.Call(ctx, branch, "bonus", "bonus-add", map[string]any{"amount": amount}, query)
	return err
}

// AllCustomers обходит всех клиентов филиала постранично, вызывая fn для
// каждого. Страница с count==0 завершает обход.
func (c *Client) AllCustomers(ctx context.Context, branch int64, fn func(Customer) error) error {
	for page := 0; ; page++ {
		resp, err := callInto[Page[Customer]](ctx, c, branch, "customer", "index", map[string]any{
			"is_study": StudyStatusLead,
			"page":     page,
		}, nil)
		if err != nil {
			return err
		}
		for _, customer := range resp.Items {
			if err := fn(customer); err != nil {
				return err
			}
		}
		if resp.Count == 0 {
			return nil
		}
	}
}

// Managers — страница сотрудников филиала.
func (c *Client) Managers(ctx context.Context, branch int64, page int) (*Page[Manager], error) {
	return callInto[Page[Manager]](ctx, c, branch, "user", "index", map[string]any{"page": page}, nil)
}
