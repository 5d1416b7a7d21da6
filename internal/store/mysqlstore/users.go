package mysqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/storefront/checkout-api/internal/models"
)

const userColumns = "id, email, password_hash, first_name, last_name, role, is_active, phone, address, created_at"

func scanUser(r scanner) (*models.User, error) {
	var (
		u       models.User
		address []byte
	)
	if err := r.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive,
		&u.Phone, &address, &u.CreatedAt); err != nil {
		return nil, err
	}
	if len(address) > 0 && string(address) != "null" {
		u.Address = &models.Address{}
		if err := fromJSON(address, u.Address); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	var address []byte
	if u.Address != nil {
		var err error
		if address, err = toJSON(u.Address); err != nil {
			return err
		}
	}
	_, err := s.exec(ctx, "INSERT", "users",
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.IsActive, u.Phone, address, u.CreatedAt)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *Store) getUser(ctx context.Context, column, value string) (*models.User, error) {
	var u *models.User
	err := s.get(ctx, "users", "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", func(r scanner) (err error) {
		u, err = scanUser(r)
		return err
	}, value)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		where = append(where, "(email LIKE ? OR first_name LIKE ? OR last_name LIKE ?)")
		args = append(args, like, like, like)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	total, err := s.count(ctx, "users", "SELECT COUNT(*) FROM users"+cond, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := "SELECT " + userColumns + " FROM users" + cond + " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	rows, err := s.query(ctx, "users", query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	var address []byte
	if u.Address != nil {
		var err error
		if address, err = toJSON(u.Address); err != nil {
			return err
		}
	}
	res, err := s.exec(ctx, "UPDATE", "users",
		`UPDATE users SET email = ?, password_hash = ?, first_name = ?, last_name = ?, role = ?,
			is_active = ?, phone = ?, address = ? WHERE id = ?`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.IsActive, u.Phone, address, u.ID)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "users", u.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "DELETE", "users", "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "users", id)
}
