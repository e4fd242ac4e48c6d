package notification

import (
	"context"
	"errors"
	"testing"
	"testing/quick"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
)

type fakeMessenger struct {
	sent []int64
	err  error
}

func (f *fakeMessenger) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params.ChatID.(int64))
	return &models.Message{}, nil
}

type fakeCRM struct {
	lessons map[int64][]alfacrm.Lesson
	bonus   map[int64]int
	err     error
}

func (f *fakeCRM) TaughtTrialLessons(ctx context.Context, branch, customerID int64) (*alfacrm.Page[alfacrm.Lesson], error) {
	if f.err != nil {
		return nil, f.err
	}
	items := f.lessons[customerID]
	return &alfacrm.Page[alfacrm.Lesson]{Total: len(items), Count: len(items), Items: items}, nil
}

func (f *fakeCRM) BonusBalance(ctx context.Context, branch, customerID int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.bonus[customerID], nil
}

type fakeClients struct {
	all      []database.Client
	low      []database.Client
	birthday []database.Client
	kiberons map[int64]int
}

func (f *fakeClients) FindAllWithCRMID(ctx context.Context) ([]database.Client, error) {
	return f.all, nil
}

func (f *fakeClients) FindWithLowPaidLessons(ctx context.Context) ([]database.Client, error) {
	return f.low, nil
}

func (f *fakeClients) FindByBirthday(ctx context.Context, date time.Time) ([]database.Client, error) {
	return f.birthday, nil
}

func (f *fakeClients) UpdateKiberons(ctx context.Context, id int64, kiberons int) error {
	if f.kiberons == nil {
		f.kiberons = make(map[int64]int)
	}
	f.kiberons[id] = kiberons
	return nil
}

type fakeUsers struct {
	owners map[int64][]database.AppUser
}

func (f *fakeUsers) FindOwners(ctx context.Context, clientID int64) ([]database.AppUser, error) {
	return f.owners[clientID], nil
}

// Обходы не оставляют отметок об отправке: повторный запуск по тем же
// данным отправляет сообщения ещё раз. Это текущее поведение, а не дефект
// теста.
func TestNotifyLowBalanceResendsOnRerun(t *testing.T) {
	messenger := &fakeMessenger{}
	clients := &fakeClients{low: []database.Client{
		{ID: 1, CRMID: 11, BranchID: 1, Name: "Иванов", PaidLessonCount: 0},
	}}
	users := &fakeUsers{owners: map[int64][]database.AppUser{
		1: {{ID: 100, TelegramID: 555}},
	}}
	service := NewService(messenger, &fakeCRM{}, clients, users)

	for run := 0; run < 2; run++ {
		if err := service.NotifyLowBalance(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	if len(messenger.sent) != 2 {
		t.Errorf("sent %d messages, want 2 (one per run)", len(messenger.sent))
	}
}

// Пользователи без telegram_id пропускаются.
func TestNotifyLowBalanceSkipsUsersWithoutTelegram(t *testing.T) {
	messenger := &fakeMessenger{}
	clients := &fakeClients{low: []database.Client{{ID: 1, CRMID: 11, BranchID: 1}}}
	users := &fakeUsers{owners: map[int64][]database.AppUser{
		1: {{ID: 100, TelegramID: 0}, {ID: 101, TelegramID: 777}},
	}}
	service := NewService(messenger, &fakeCRM{}, clients, users)

	if err := service.NotifyLowBalance(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(messenger.sent) != 1 || messenger.sent[0] != 777 {
		t.Errorf("sent = %v, want [777]", messenger.sent)
	}
}

func TestNotifyTrialLessons(t *testing.T) {
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	messenger := &fakeMessenger{}
	crm := &fakeCRM{lessons: map[int64][]alfacrm.Lesson{
		11: {{Date: yesterday, Details: []alfacrm.LessonDetail{{IsAttend: true}}}},
		12: {{Date: yesterday, Details: []alfacrm.LessonDetail{{IsAttend: false}}}},
	}}
	clients := &fakeClients{all: []database.Client{
		{ID: 1, CRMID: 11, BranchID: 1, Name: "Иванов"},
		{ID: 2, CRMID: 12, BranchID: 1, Name: "Петров"},
	}}
	users := &fakeUsers{owners: map[int64][]database.AppUser{
		1: {{ID: 100, TelegramID: 555}},
		2: {{ID: 101, TelegramID: 556}},
	}}
	service := NewService(messenger, crm, clients, users)

	results, err := service.NotifyTrialLessons(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].Checked || !results[0].AttendedYesterday {
		t.Errorf("client 11: %+v, want checked and attended", results[0])
	}
	if !results[1].Checked || results[1].AttendedYesterday {
		t.Errorf("client 12: %+v, want checked and not attended", results[1])
	}
	if len(messenger.sent) != 1 || messenger.sent[0] != 555 {
		t.Errorf("sent = %v, want [555]", messenger.sent)
	}
}

// Сбой CRM по клиенту помечает его Checked=false и не прерывает обход.
func TestNotifyTrialLessonsCRMFailure(t *testing.T) {
	messenger := &fakeMessenger{}
	crm := &fakeCRM{err: errors.New("crm down")}
	clients := &fakeClients{all: []database.Client{{ID: 1, CRMID: 11, BranchID: 1}}}
	service := NewService(messenger, crm, clients, &fakeUsers{})

	results, err := service.NotifyTrialLessons(context.Background())
	if err != nil {
		t.Fatalf("sweep must not fail on per-client errors: %v", err)
	}
	if len(results) != 1 || results[0].Checked {
		t.Errorf("results = %+v, want single unchecked entry", results)
	}
}

// Свойство: AttendedYesterday истинно только при вчерашней дате и отметке
// посещения; уроки без details никогда не срабатывают.
func TestAttendedYesterdayProperty(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	f := func(dayOffset int8, isAttend bool, hasDetails bool) bool {
		date := now.AddDate(0, 0, int(dayOffset%30)).Format("2006-01-02")
		lesson := alfacrm.Lesson{Date: date}
		if hasDetails {
			lesson.Details = []alfacrm.LessonDetail{{IsAttend: alfacrm.FlexBool(isAttend)}}
		}

		got := AttendedYesterday([]alfacrm.Lesson{lesson}, now)
		want := hasDetails && isAttend && int(dayOffset%30) == -1
		return got == want
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func TestAttendedYesterdayEdgeCases(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	if AttendedYesterday(nil, now) {
		t.Error("no lessons must not attend")
	}
	if AttendedYesterday([]alfacrm.Lesson{{Date: "mangled", Details: []alfacrm.LessonDetail{{IsAttend: true}}}}, now) {
		t.Error("malformed date must not attend")
	}
	if !AttendedYesterday([]alfacrm.Lesson{
		{Date: "2026-08-20", Details: []alfacrm.LessonDetail{{IsAttend: true}}},
		{Date: "2026-08-27", Details: []alfacrm.LessonDetail{{IsAttend: true}}},
	}, now) {
		t.Error("any matching lesson in the list must attend")
	}
}

func TestSyncKiberons(t *testing.T) {
	crm := &fakeCRM{bonus: map[int64]int{11: 120, 12: 0}}
	clients := &fakeClients{all: []database.Client{
		{ID: 1, CRMID: 11, BranchID: 1},
		{ID: 2, CRMID: 12, BranchID: 1},
	}}
	service := NewService(&fakeMessenger{}, crm, clients, &fakeUsers{})

	if err := service.SyncKiberons(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if clients.kiberons[1] != 120 || clients.kiberons[2] != 0 {
		t.Errorf("kiberons = %v", clients.kiberons)
	}
}

func TestNotifyBirthdays(t *testing.T) {
	messenger := &fakeMessenger{}
	clients := &fakeClients{birthday: []database.Client{{ID: 1, CRMID: 11, Name: "Иванов"}}}
	users := &fakeUsers{owners: map[int64][]database.AppUser{1: {{ID: 100, TelegramID: 42}}}}
	service := NewService(messenger, &fakeCRM{}, clients, users)

	if err := service.NotifyBirthdays(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(messenger.sent) != 1 || messenger.sent[0] != 42 {
		t.Errorf("sent = %v, want [42]", messenger.sent)
	}
}
