package alfacrm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Статусы и типы уроков в терминах AlfaCRM.
const (
	LessonStatusPlanned   = 1
	LessonStatusCancelled = 2
	LessonStatusTaught    = 3

	LessonTypeGroup = 2
	LessonTypeTrial = 3
)

// Статусы обучения клиента.
const (
	StudyStatusLead   = 0
	StudyStatusClient = 1
	StudyStatusAny    = 2
)

// Money принимает числа и строки ("-50.00") — CRM отдаёт суммы в обоих видах.
type Money float64

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid money value %q: %w", s, err)
	}
	*m = Money(v)
	return nil
}

// FlexInt принимает числа и строки ("3").
type FlexInt int

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid int value %q: %w", s, err)
	}
	*i = FlexInt(v)
	return nil
}

// FlexBool принимает bool, 0/1 и null — флаг is_attend приходит по-разному.
type FlexBool bool

func (fb *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch s {
	case "true", "1":
		*fb = true
	case "false", "0", "null", "":
		*fb = false
	default:
		return fmt.Errorf("invalid bool value %q", s)
	}
	return nil
}

// Page — конверт пагинированных ответов CRM. Страницы нумеруются с нуля;
// total — общее число записей, count — размер текущей страницы.
type Page[T any] struct {
	Total int `json:"total"`
	Count int `json:"count"`
	Items []T `json:"items"`
}

// LastPage воспроизводит вычисление последней страницы из исходной
// интеграции: total/count при count != 0, иначе 1. Это приближение с
// известным сдвигом на единицу, а не точное число страниц.
func LastPage(total, count int) int {
	if count != 0 {
		return total / count
	}
	return 1
}

type Customer struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	BranchIds       []int64  `json:"branch_ids"`
	IsStudy         FlexInt  `json:"is_study"`
	Balance         Money    `json:"balance"`
	Dob             string   `json:"dob"`
	NextLessonDate  string   `json:"next_lesson_date"`
	PaidTill        string   `json:"paid_till"`
	Note            string   `json:"note"`
	PaidLessonCount FlexInt  `json:"paid_lesson_count"`
	Phone           []string `json:"phone"`
}

type LessonDetail struct {
	CustomerID int64    `json:"customer_id"`
	ReasonID   FlexInt  `json:"reason_id"`
	IsAttend   FlexBool `json:"is_attend"`
}

type Lesson struct {
	ID           int64          `json:"id"`
	Date         string         `json:"date"`
	Time         string         `json:"time_from"`
	RoomID       int64          `json:"room_id"`
	Status       FlexInt        `json:"status"`
	LessonTypeID FlexInt        `json:"lesson_type_id"`
	Details      []LessonDetail `json:"details"`
}

// Tariff — запись справочника tariff/index.
type Tariff struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price Money  `json:"price"`
}

// CustomerTariff — запись customer-tariff/index: привязка тарифа к клиенту
// с окном действия. Price заполняется при резолве текущего тарифа.
type CustomerTariff struct {
	ID        int64  `json:"id"`
	TariffID  int64  `json:"tariff_id"`
	BeginDate string `json:"b_date"`
	EndDate   string `json:"e_date"`
	Price     float64
}

type Discount struct {
	CustomerID int64  `json:"customer_id"`
	Amount     Money  `json:"amount"`
	Begin      string `json:"begin"`
	End        string `json:"end"`
}

type Manager struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type authResponse struct {
	Token string `json:"token"`
}

type bonusBalanceResponse struct {
	BalanceBonus FlexInt `json:"balance_bonus"`
}

type createResponse struct {
	ID    int64           `json:"id"`
	Model json.RawMessage `json:"model"`
}
