package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"kiberclub-bot/internal/alfacrm"
)

// Горизонт сверки: если за два года не нашлось ни месяца без занятий, ни
// отрицательного остатка, данные о тарифах/уроках считаются некорректными.
const maxReconcileMonths = 24

// Месячный тариф делится на фиксированные четыре занятия.
const lessonsPerTariffMonth = 4

// Причина пропуска, не влияющая на оплату (уважительная).
const excusedReasonID = 1

// ErrUnresolved — сверка не сошлась за maxReconcileMonths месяцев.
var ErrUnresolved = errors.New("payment: could not resolve amount due")

type crmQueries interface {
	CustomerLessons(ctx context.Context, branch, customerID int64, page, status, lessonType int) (*alfacrm.Page[alfacrm.Lesson], error)
	CurrentTariff(ctx context.Context, branch, customerID int64, date time.Time) (*alfacrm.CustomerTariff, error)
}

// Calculator выводит сумму к оплате из баланса клиента и помесячной сверки
// проведённых и запланированных групповых занятий.
type Calculator struct {
	crm crmQueries
}

func NewCalculator(crm crmQueries) *Calculator {
	return &Calculator{crm: crm}
}

// AmountDue идёт по месяцам начиная с from:
//   - месяц без занятий: отрицательный баланс — долг |balance|; иначе, если и
//     в следующем месяце нет запланированных занятий, долг 0;
//   - месяц с занятиями: остаток = баланс − цена_занятия × план; отрицательный
//     остаток — это и есть долг, неотрицательный переносится на следующий
//     месяц (проекция в предположении, что клиент продолжит заниматься).
//
// Исходная реализация рекурсировала без ограничения глубины; здесь цикл
// ограничен maxReconcileMonths и за пределом возвращает ErrUnresolved.
func (c *Calculator) AmountDue(ctx context.Context, branch, crmID int64, balance float64, from time.Time) (float64, error) {
	cur := from
	bal := balance

	for i := 0; i < maxReconcileMonths; i++ {
		taught, planned := c.monthLessons(ctx, branch, crmID, cur)

		if taught+planned == 0 {
			if bal < 0 {
				return math.Abs(bal), nil
			}
			_, nextPlanned := c.monthLessons(ctx, branch, crmID, addMonths(cur, 1))
			if nextPlanned == 0 {
				return 0, nil
			}
			cur = addMonths(cur, 1)
			continue
		}

		price, err := c.lessonPrice(ctx, branch, crmID, cur)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve lesson price: %w", err)
		}

		due := bal - price*float64(planned)
		if due < 0 {
			return math.Abs(due), nil
		}
		bal = due
		cur = addMonths(cur, 1)
	}

	return 0, ErrUnresolved
}

// monthLessons считает проведённые и запланированные групповые занятия
// месяца. Уважительные пропуски (reason_id=1) не учитываются; запланированные
// занятия без details пропускаются. Отказ CRM сворачивается в ноль занятий —
// поведение исходной интеграции.
func (c *Calculator) monthLessons(ctx context.Context, branch, crmID int64, month time.Time) (taught, planned int) {
	taughtPage, err := c.crm.CustomerLessons(ctx, branch, crmID, 0, alfacrm.LessonStatusTaught, alfacrm.LessonTypeGroup)
	if err != nil {
		slog.Warn("Failed to fetch taught lessons", "crm_id", crmID, "error", err)
	} else {
		for _, lesson := range taughtPage.Items {
			if !lessonInMonth(lesson, month) {
				continue
			}
			if len(lesson.Details) > 0 && int(lesson.Details[0].ReasonID) == excusedReasonID {
				continue
			}
			taught++
		}
	}

	plannedPage, err := c.crm.CustomerLessons(ctx, branch, crmID, 0, alfacrm.LessonStatusPlanned, alfacrm.LessonTypeGroup)
	if err != nil {
		slog.Warn("Failed to fetch planned lessons", "crm_id", crmID, "error", err)
	} else {
		for _, lesson := range plannedPage.Items {
			if len(lesson.Details) == 0 {
				continue
			}
			if !lessonInMonth(lesson, month) {
				continue
			}
			if int(lesson.Details[0].ReasonID) == excusedReasonID {
				continue
			}
			planned++
		}
	}

	return taught, planned
}

func (c *Calculator) lessonPrice(ctx context.Context, branch, crmID int64, date time.Time) (float64, error) {
	tariff, err := c.crm.CurrentTariff(ctx, branch, crmID, date)
	if err != nil {
		return 0, err
	}
	return round2(tariff.Price/lessonsPerTariffMonth + 0.001), nil
}

func lessonInMonth(lesson alfacrm.Lesson, month time.Time) bool {
	date, err := alfacrm.ParseDate(lesson.Date)
	if err != nil || date.IsZero() {
		return false
	}
	return date.Year() == month.Year() && date.Month() == month.Month()
}

// addMonths — календарный сдвиг с прижатием дня к концу месяца
// (31 января + месяц = 28/29 февраля).
func addMonths(t time.Time, n int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, n, 0)
	day := t.Day()
	if last := firstOfTarget.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
