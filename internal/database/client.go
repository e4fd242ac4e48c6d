package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Client — локальное зеркало карточки клиента из CRM. Источник истины — CRM,
// зеркало обновляется периодической синхронизацией.
type Client struct {
	ID                  int64      `db:"id"`
	CRMID               int64      `db:"crm_id"`
	BranchID            int64      `db:"branch_id"`
	Name                string     `db:"name"`
	IsStudy             bool       `db:"is_study"`
	Dob                 *time.Time `db:"dob"`
	Balance             float64    `db:"balance"`
	NextLessonDate      *time.Time `db:"next_lesson_date"`
	PaidTill            *time.Time `db:"paid_till"`
	Note                *string    `db:"note"`
	PaidLessonCount     int        `db:"paid_lesson_count"`
	HasScheduledLessons bool       `db:"has_scheduled_lessons"`
	Kiberons            int        `db:"kiberons"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

type ClientRepository struct {
	pool *pgxpool.Pool
}

func NewClientRepository(pool *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

func clientColumns() []string {
	return []string{
		"id", "crm_id", "branch_id", "name", "is_study", "dob", "balance",
		"next_lesson_date", "paid_till", "note", "paid_lesson_count",
		"has_scheduled_lessons", "kiberons", "updated_at",
	}
}

func scanClient(row pgx.Row) (*Client, error) {
	var client Client
	err := row.Scan(
		&client.ID,
		&client.CRMID,
		&client.BranchID,
		&client.Name,
		&client.IsStudy,
		&client.Dob,
		&client.Balance,
		&client.NextLessonDate,
		&client.PaidTill,
		&client.Note,
		&client.PaidLessonCount,
		&client.HasScheduledLessons,
		&client.Kiberons,
		&client.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func scanClientFromRows(rows pgx.Rows) (*Client, error) {
	var client Client
	err := rows.Scan(
		&client.ID,
		&client.CRMID,
		&client.BranchID,
		&client.Name,
		&client.IsStudy,
		&client.Dob,
		&client.Balance,
		&client.NextLessonDate,
		&client.PaidTill,
		&client.Note,
		&client.PaidLessonCount,
		&client.HasScheduledLessons,
		&client.Kiberons,
		&client.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (cr *ClientRepository) selectAll(ctx context.Context, builder sq.SelectBuilder) ([]Client, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := cr.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		client, err := scanClientFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over client rows: %w", err)
	}

	return clients, nil
}

// FindAllWithCRMID — все зеркальные записи, у которых есть идентификатор CRM.
// По этому списку идут синхронизация и рассылочные обходы.
func (cr *ClientRepository) FindAllWithCRMID(ctx context.Context) ([]Client, error) {
	builder := sq.Select(clientColumns()...).
		From("clients").
		Where(sq.Gt{"crm_id": 0}).
		OrderBy("id").
		PlaceholderFormat(sq.Dollar)
	return cr.selectAll(ctx, builder)
}

// lowPaidLessonsQuery отбирает клиентов, у которых оплаченных занятий меньше
// одного. Статус обучения не участвует: лиды с нулём оплаченных занятий тоже
// попадают в напоминание.
func lowPaidLessonsQuery() sq.SelectBuilder {
	return sq.Select(clientColumns()...).
		From("clients").
		Where(sq.Lt{"paid_lesson_count": 1}).
		PlaceholderFormat(sq.Dollar)
}

func (cr *ClientRepository) FindWithLowPaidLessons(ctx context.Context) ([]Client, error) {
	return cr.selectAll(ctx, lowPaidLessonsQuery())
}

// FindByBirthday — клиенты, у которых день рождения приходится на указанную
// дату (по дню и месяцу, год не учитывается).
func (cr *ClientRepository) FindByBirthday(ctx context.Context, date time.Time) ([]Client, error) {
	builder := sq.Select(clientColumns()...).
		From("clients").
		Where(sq.And{
			sq.NotEq{"dob": nil},
			sq.Expr("EXTRACT(MONTH FROM dob) = ?", int(date.Month())),
			sq.Expr("EXTRACT(DAY FROM dob) = ?", date.Day()),
		}).
		PlaceholderFormat(sq.Dollar)
	return cr.selectAll(ctx, builder)
}

func (cr *ClientRepository) FindByCRMID(ctx context.Context, crmID int64) (*Client, error) {
	buildSelect := sq.Select(clientColumns()...).
		From("clients").
		Where(sq.Eq{"crm_id": crmID}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildSelect.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	client, err := scanClient(cr.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query client: %w", err)
	}
	return client, nil
}

// FindOrCreate создаёт зеркальную запись по (crm_id, branch_id) или
// возвращает существующую.
func (cr *ClientRepository) FindOrCreate(ctx context.Context, client *Client) (*Client, error) {
	query := `
		INSERT INTO clients (crm_id, branch_id, name, is_study)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (crm_id) DO UPDATE SET crm_id = clients.crm_id
		RETURNING id, crm_id, branch_id, name, is_study, dob, balance,
			next_lesson_date, paid_till, note, paid_lesson_count,
			has_scheduled_lessons, kiberons, updated_at`

	row := cr.pool.QueryRow(ctx, query, client.CRMID, client.BranchID, client.Name, client.IsStudy)
	result, err := scanClient(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create client: %w", err)
	}
	return result, nil
}

// UpdateFromCRM перезаписывает зеркальные поля свежими данными из CRM.
func (cr *ClientRepository) UpdateFromCRM(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	buildUpdate := sq.Update("clients").
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar)

	for field, value := range updates {
		buildUpdate = buildUpdate.Set(field, value)
	}

	sql, args, err := buildUpdate.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	result, err := cr.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no client found with id %d", id)
	}
	return nil
}

func (cr *ClientRepository) UpdateKiberons(ctx context.Context, id int64, kiberons int) error {
	buildUpdate := sq.Update("clients").
		Set("kiberons", kiberons).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildUpdate.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	_, err = cr.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update kiberons: %w", err)
	}
	return nil
}

// Delete удаляет зеркальную запись вместе с привязками к пользователям.
func (cr *ClientRepository) Delete(ctx context.Context, id int64) error {
	buildDelete := sq.Delete("clients").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildDelete.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	_, err = cr.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

// FindByUser — клиенты, привязанные к пользователю бота.
func (cr *ClientRepository) FindByUser(ctx context.Context, userID int64) ([]Client, error) {
	builder := sq.Select(
		"c.id", "c.crm_id", "c.branch_id", "c.name", "c.is_study", "c.dob",
		"c.balance", "c.next_lesson_date", "c.paid_till", "c.note",
		"c.paid_lesson_count", "c.has_scheduled_lessons", "c.kiberons", "c.updated_at").
		From("clients c").
		Join("user_clients uc ON uc.client_id = c.id").
		Where(sq.Eq{"uc.user_id": userID}).
		PlaceholderFormat(sq.Dollar)
	return cr.selectAll(ctx, builder)
}
