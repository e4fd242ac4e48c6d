package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"kiberclub-bot/utils"
)

// Статусы пользователя бота: "0" — нет клиентов, "1" — есть клиент
// с запланированными занятиями, "2" — есть обучающийся клиент.
const (
	UserStatusNone      = "0"
	UserStatusScheduled = "1"
	UserStatusStudying  = "2"
)

type AppUser struct {
	ID         int64     `db:"id"`
	TelegramID int64     `db:"telegram_id"`
	Username   *string   `db:"username"`
	Phone      *string   `db:"phone"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
}

type AppUserRepository struct {
	pool *pgxpool.Pool
}

func NewAppUserRepository(pool *pgxpool.Pool) *AppUserRepository {
	return &AppUserRepository{pool: pool}
}

func appUserColumns() []string {
	return []string{"id", "telegram_id", "username", "phone", "status", "created_at"}
}

func scanAppUser(row pgx.Row) (*AppUser, error) {
	var user AppUser
	err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.Username,
		&user.Phone,
		&user.Status,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindOrCreate создаёт пользователя или возвращает существующего, защита от
// duplicate key при параллельных апдейтах от Telegram.
func (ur *AppUserRepository) FindOrCreate(ctx context.Context, user *AppUser) (*AppUser, error) {
	query := `
		INSERT INTO app_users (telegram_id, username, phone, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = app_users.telegram_id
		RETURNING id, telegram_id, username, phone, status, created_at`

	status := user.Status
	if status == "" {
		status = UserStatusNone
	}

	row := ur.pool.QueryRow(ctx, query, user.TelegramID, user.Username, user.Phone, status)
	result, err := scanAppUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user: %w", err)
	}

	slog.Info("user found or created in bot database", "telegramId", utils.MaskHalfInt64(result.TelegramID))
	return result, nil
}

func (ur *AppUserRepository) FindByTelegramId(ctx context.Context, telegramID int64) (*AppUser, error) {
	buildSelect := sq.Select(appUserColumns()...).
		From("app_users").
		Where(sq.Eq{"telegram_id": telegramID}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildSelect.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	user, err := scanAppUser(ur.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (ur *AppUserRepository) FindByStatus(ctx context.Context, statuses []string) ([]AppUser, error) {
	buildSelect := sq.Select(appUserColumns()...).
		From("app_users").
		Where(sq.Eq{"status": statuses}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildSelect.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := ur.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by status: %w", err)
	}
	defer rows.Close()

	var users []AppUser
	for rows.Next() {
		var user AppUser
		if err := rows.Scan(&user.ID, &user.TelegramID, &user.Username, &user.Phone, &user.Status, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over user rows: %w", err)
	}

	return users, nil
}

func (ur *AppUserRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	buildUpdate := sq.Update("app_users").
		Set("status", status).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildUpdate.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	_, err = ur.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

func (ur *AppUserRepository) UpdateFields(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	buildUpdate := sq.Update("app_users").
		PlaceholderFormat(sq.Dollar).
		Where(sq.Eq{"id": id})

	for field, value := range updates {
		buildUpdate = buildUpdate.Set(field, value)
	}

	sql, args, err := buildUpdate.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	result, err := ur.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no user found with id %d", id)
	}
	return nil
}

// LinkClient привязывает клиента CRM к пользователю бота. Повторная привязка
// той же пары — no-op.
func (ur *AppUserRepository) LinkClient(ctx context.Context, userID, clientID int64) error {
	query := sq.Insert("user_clients").
		Columns("user_id", "client_id").
		Values(userID, clientID).
		Suffix("ON CONFLICT (user_id, client_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build link query: %w", err)
	}

	_, err = ur.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to link client to user: %w", err)
	}
	return nil
}

// FindOwners возвращает пользователей, к которым привязан клиент.
func (ur *AppUserRepository) FindOwners(ctx context.Context, clientID int64) ([]AppUser, error) {
	buildSelect := sq.Select("u.id", "u.telegram_id", "u.username", "u.phone", "u.status", "u.created_at").
		From("app_users u").
		Join("user_clients uc ON uc.user_id = u.id").
		Where(sq.Eq{"uc.client_id": clientID}).
		PlaceholderFormat(sq.Dollar)

	sql, args, err := buildSelect.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := ur.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query client owners: %w", err)
	}
	defer rows.Close()

	var users []AppUser
	for rows.Next() {
		var user AppUser
		if err := rows.Scan(&user.ID, &user.TelegramID, &user.Username, &user.Phone, &user.Status, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over user rows: %w", err)
	}

	return users, nil
}
