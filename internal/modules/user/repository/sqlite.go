package repository

import (
	"context"
	"database/sql"

	"github.com/mailfeed/mailfeed/internal/modules/user/domain"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	"github.com/samber/oops"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(db *sql.DB) Repository {
	return &SQLiteStorage{db: db}
}

const userColumns = `id, send_email, is_active, daily_send_time, timezone, telegram_chat_id,
	smtp_host, smtp_port, smtp_username, smtp_password, smtp_use_tls, from_email, from_name`

func (s *SQLiteStorage) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, oops.With("user_id", id, "context", "reading user").Wrap(err)
	}
	return user, nil
}

func (s *SQLiteStorage) GetAllActive(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, oops.With("context", "listing active users").Wrap(err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, oops.With("context", "scanning user row").Wrap(err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteStorage) Save(ctx context.Context, user *domain.User) error {
	if user.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users (send_email, is_active, daily_send_time, timezone, telegram_chat_id,
				smtp_host, smtp_port, smtp_username, smtp_password, smtp_use_tls, from_email, from_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.SendEmail, user.IsActive, defaultStr(user.DailySendTime, "00:00"), defaultStr(user.Timezone, "UTC"),
			user.TelegramChatID, user.SMTP.Host, user.SMTP.Port, user.SMTP.Username, user.SMTP.Password,
			user.SMTP.UseTLS, user.SMTP.FromEmail, user.SMTP.FromName)
		if err != nil {
			return oops.With("context", "inserting user").Wrap(err)
		}
		user.ID, err = res.LastInsertId()
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET send_email = ?, is_active = ?, daily_send_time = ?, timezone = ?, telegram_chat_id = ?,
			smtp_host = ?, smtp_port = ?, smtp_username = ?, smtp_password = ?, smtp_use_tls = ?, from_email = ?, from_name = ?
		 WHERE id = ?`,
		user.SendEmail, user.IsActive, defaultStr(user.DailySendTime, "00:00"), defaultStr(user.Timezone, "UTC"),
		user.TelegramChatID, user.SMTP.Host, user.SMTP.Port, user.SMTP.Username, user.SMTP.Password,
		user.SMTP.UseTLS, user.SMTP.FromEmail, user.SMTP.FromName, user.ID)
	if err != nil {
		return oops.With("user_id", user.ID, "context", "updating user").Wrap(err)
	}
	return nil
}

func scanUser(scan func(dest ...any) error) (*domain.User, error) {
	var u domain.User
	err := scan(&u.ID, &u.SendEmail, &u.IsActive, &u.DailySendTime, &u.Timezone, &u.TelegramChatID,
		&u.SMTP.Host, &u.SMTP.Port, &u.SMTP.Username, &u.SMTP.Password, &u.SMTP.UseTLS,
		&u.SMTP.FromEmail, &u.SMTP.FromName)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
