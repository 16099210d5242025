// Package accounts управляет учётными записями и определяет роль вызывающего.
package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// RegisterInput — данные для регистрации.
type RegisterInput struct {
	Name  string
	Email string
	Role  string
}

// UserPatch — частичное обновление пользователя.
type UserPatch struct {
	Name  *string
	Email *string
	Role  *string
}

// Service — сервис учётных записей.
type Service struct {
	users  domain.UserRepository
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис учётных записей.
func NewService(users domain.UserRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "accounts")
	}
	return &Service{
		users:  users,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolve превращает идентификатор из заголовка запроса в Caller.
// Неизвестный пользователь считается неаутентифицированным.
func (s *Service) Resolve(ctx context.Context, userID string) (domain.Caller, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Caller{}, domain.ErrUnauthenticated
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Caller{}, domain.ErrUnauthenticated
		}
		return domain.Caller{}, err
	}
	return domain.Caller{UserID: user.ID, Role: user.Role}, nil
}

// Register создаёт пользователя. Создать admin может только admin.
func (s *Service) Register(ctx context.Context, caller domain.Caller, in RegisterInput) (domain.User, error) {
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.User{}, err
	}
	if role == domain.RoleAdmin && !caller.IsAdmin() {
		return domain.User{}, domain.ErrForbidden
	}

	now := s.now()
	user := domain.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Email:     domain.NormalizeEmail(in.Email),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errs := user.Validate(); len(errs) > 0 {
		return domain.User{}, errs[0]
	}

	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("user registered")
	return user, nil
}

// List возвращает всех пользователей (admin).
func (s *Service) List(ctx context.Context, caller domain.Caller) ([]domain.User, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	return s.users.List(ctx)
}

// Get возвращает пользователя самому пользователю или admin.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id string) (domain.User, error) {
	if !caller.Authenticated() {
		return domain.User{}, domain.ErrUnauthenticated
	}
	if !caller.CanAccess(id) {
		return domain.User{}, domain.ErrForbidden
	}
	return s.users.Get(ctx, id)
}

// Me возвращает учётную запись вызывающего.
func (s *Service) Me(ctx context.Context, caller domain.Caller) (domain.User, error) {
	return s.Get(ctx, caller, caller.UserID)
}

// Update меняет имя, email и роль. Роль меняет только admin.
func (s *Service) Update(ctx context.Context, caller domain.Caller, id string, patch UserPatch) (domain.User, error) {
	if !caller.Authenticated() {
		return domain.User{}, domain.ErrUnauthenticated
	}
	if !caller.CanAccess(id) {
		return domain.User{}, domain.ErrForbidden
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		user.Email = domain.NormalizeEmail(*patch.Email)
	}
	if patch.Role != nil {
		role, err := domain.ParseRole(*patch.Role)
		if err != nil {
			return domain.User{}, err
		}
		if role != user.Role && !caller.IsAdmin() {
			return domain.User{}, domain.ErrForbidden
		}
		user.Role = role
	}
	if errs := user.Validate(); len(errs) > 0 {
		return domain.User{}, errs[0]
	}
	user.UpdatedAt = s.now()

	if err := s.users.Save(ctx, user); err != nil {
		return domain.User{}, err
	}
	user.Version++

	s.logger.WithField("user_id", user.ID).Info("user updated")
	return user, nil
}

// Delete удаляет пользователя (admin).
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id string) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return domain.ErrForbidden
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	return nil
}

// EnsureAdmin создаёт администратора, если пользователя с таким email ещё нет.
// Используется CLI и seed, где вызывающего нет.
func (s *Service) EnsureAdmin(ctx context.Context, name, email string) (domain.User, bool, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !domain.IsNotFound(err) {
		return domain.User{}, false, err
	}
	user, err := s.Register(ctx, domain.SystemCaller(), RegisterInput{Name: name, Email: email, Role: string(domain.RoleAdmin)})
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}
