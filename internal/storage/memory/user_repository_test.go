package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func TestUserRepository_EmailIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()
	now := time.Now().UTC()

	alice := domain.User{ID: "u-1", Name: "Alice", Email: "alice@example.com", Role: domain.RoleClient, CreatedAt: now}
	bob := domain.User{ID: "u-2", Name: "Bob", Email: "bob@example.com", Role: domain.RoleClient, CreatedAt: now}

	if err := repo.Create(ctx, alice); err != nil {
		t.Fatalf("create alice failed: %v", err)
	}
	if err := repo.Create(ctx, bob); err != nil {
		t.Fatalf("create bob failed: %v", err)
	}

	clone := domain.User{ID: "u-3", Name: "Clone", Email: "alice@example.com"}
	if err := repo.Create(ctx, clone); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	bob.Email = "alice@example.com"
	if err := repo.Save(ctx, bob); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken on save, got %v", err)
	}

	bob.Email = "robert@example.com"
	if err := repo.Save(ctx, bob); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "bob@example.com"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("old email must be released, got %v", err)
	}
	got, err := repo.GetByEmail(ctx, " Robert@Example.com ")
	if err != nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if got.ID != "u-2" || got.Version != 1 {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestUserRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()
	base := time.Now().UTC()

	for i, id := range []string{"u-1", "u-2"} {
		user := domain.User{ID: id, Name: id, Email: id + "@example.com", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(users) != 2 || users[0].ID != "u-2" {
		t.Fatalf("expected newest first, got %+v", users)
	}

	if err := repo.Delete(ctx, "u-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "u-1"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	// Освобождённый email снова доступен.
	if err := repo.Create(ctx, domain.User{ID: "u-9", Email: "u-1@example.com"}); err != nil {
		t.Fatalf("expected freed email to be reusable, got %v", err)
	}
}
