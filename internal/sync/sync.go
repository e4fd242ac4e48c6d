package sync

import (
	"context"
	"log/slog"
	"time"

	"kiberclub-bot/internal/alfacrm"
	"kiberclub-bot/internal/database"
)

type crmClient interface {
	FindCustomerByID(ctx context.Context, branch, crmID int64) (*alfacrm.Customer, bool, error)
}

type clientRepository interface {
	FindAllWithCRMID(ctx context.Context) ([]database.Client, error)
	FindByUser(ctx context.Context, userID int64) ([]database.Client, error)
	UpdateFromCRM(ctx context.Context, id int64, updates map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
}

type userRepository interface {
	FindOwners(ctx context.Context, clientID int64) ([]database.AppUser, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// SyncService обновляет локальное зеркало клиентов из CRM. Источник истины —
// CRM: найденная карточка перезаписывает зеркало, подтверждённо отсутствующая
// удаляет его, сбой запроса оставляет запись как есть до следующего прохода.
type SyncService struct {
	crm     crmClient
	clients clientRepository
	users   userRepository
}

func NewSyncService(crm crmClient, clients clientRepository, users userRepository) *SyncService {
	return &SyncService{crm: crm, clients: clients, users: users}
}

// SyncAllClients проходит по всем зеркальным записям с crm_id.
func (s *SyncService) SyncAllClients(ctx context.Context) error {
	clients, err := s.clients.FindAllWithCRMID(ctx)
	if err != nil {
		return err
	}

	var updated, deleted, failed int
	touchedUsers := make(map[int64]struct{})

	for _, client := range clients {
		owners, err := s.users.FindOwners(ctx, client.ID)
		if err != nil {
			slog.Warn("Failed to load client owners", "client_id", client.ID, "error", err)
		}

		customer, found, err := s.crm.FindCustomerByID(ctx, client.BranchID, client.CRMID)
		if err != nil {
			slog.Warn("CRM lookup failed, keeping local record", "crm_id", client.CRMID, "error", err)
			failed++
			continue
		}

		if !found {
			if err := s.clients.Delete(ctx, client.ID); err != nil {
				slog.Error("Failed to delete stale client", "client_id", client.ID, "error", err)
				continue
			}
			deleted++
		} else {
			if err := s.clients.UpdateFromCRM(ctx, client.ID, customerUpdates(customer)); err != nil {
				slog.Error("Failed to update client from CRM", "client_id", client.ID, "error", err)
				continue
			}
			updated++
		}

		for _, owner := range owners {
			touchedUsers[owner.ID] = struct{}{}
		}
	}

	for userID := range touchedUsers {
		if err := s.RecomputeUserStatus(ctx, userID); err != nil {
			slog.Warn("Failed to recompute user status", "user_id", userID, "error", err)
		}
	}

	slog.Info("Client sync finished", "updated", updated, "deleted", deleted, "failed", failed)
	return nil
}

// customerUpdates переводит карточку CRM в набор зеркальных полей.
func customerUpdates(customer *alfacrm.Customer) map[string]interface{} {
	updates := map[string]interface{}{
		"name":              customer.Name,
		"is_study":          int(customer.IsStudy) == alfacrm.StudyStatusClient,
		"balance":           float64(customer.Balance),
		"paid_lesson_count": int(customer.PaidLessonCount),
		"note":              customer.Note,
	}

	updates["dob"] = parsedDateOrNil(customer.Dob)
	nextLesson := parsedDateOrNil(customer.NextLessonDate)
	updates["next_lesson_date"] = nextLesson
	updates["paid_till"] = parsedDateOrNil(customer.PaidTill)
	updates["has_scheduled_lessons"] = nextLesson != nil

	return updates
}

func parsedDateOrNil(raw string) *time.Time {
	date, err := alfacrm.ParseDate(raw)
	if err != nil || date.IsZero() {
		return nil
	}
	return &date
}

// RecomputeUserStatus выводит статус пользователя из его клиентов: хоть один
// обучающийся — "2", иначе хоть один с запланированными занятиями — "1",
// иначе "0".
func (s *SyncService) RecomputeUserStatus(ctx context.Context, userID int64) error {
	clients, err := s.clients.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.users.UpdateStatus(ctx, userID, StatusFor(clients))
}

// StatusFor — чистое правило вычисления статуса по списку клиентов.
func StatusFor(clients []database.Client) string {
	status := database.UserStatusNone
	for _, client := range clients {
		if client.IsStudy {
			return database.UserStatusStudying
		}
		if client.HasScheduledLessons {
			status = database.UserStatusScheduled
		}
	}
	return status
}
