package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Role — роль пользователя в магазине.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// ParseRole нормализует роль; пустая строка трактуется как client.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleClient:
		return RoleClient, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrRoleInvalid
	}
}

// User — учётная запись.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail приводит email к каноничному виду (trim + lower).
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate проверяет инварианты пользователя.
func (u *User) Validate() []error {
	var errs []error

	if strings.TrimSpace(u.Name) == "" {
		errs = append(errs, ErrUserNameRequired)
	}
	switch {
	case u.Email == "":
		errs = append(errs, ErrEmailRequired)
	default:
		if _, err := mail.ParseAddress(u.Email); err != nil {
			errs = append(errs, ErrEmailInvalid)
		}
	}
	if u.Role != RoleClient && u.Role != RoleAdmin {
		errs = append(errs, ErrRoleInvalid)
	}

	return errs
}

// Caller — аутентифицированный участник запроса. Роль берётся из Account Store.
type Caller struct {
	UserID string
	Role   Role
}

// Authenticated сообщает, известен ли вызывающий.
func (c Caller) Authenticated() bool {
	return c.UserID != ""
}

func (c Caller) IsAdmin() bool {
	return c.Authenticated() && c.Role == RoleAdmin
}

func (c Caller) IsClient() bool {
	return c.Authenticated() && c.Role == RoleClient
}

// CanAccess разрешает доступ администратору или владельцу ресурса.
func (c Caller) CanAccess(ownerID string) bool {
	return c.IsAdmin() || (c.Authenticated() && c.UserID == ownerID)
}

// SystemCaller используется служебными инструментами (CLI, seed).
func SystemCaller() Caller {
	return Caller{UserID: "system", Role: RoleAdmin}
}
