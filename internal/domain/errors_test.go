package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrVersionConflict,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: ErrItemQtyInvalid, want: KindValidation},
		{name: "wrapped not found", err: fmt.Errorf("%w: p-1", ErrProductNotFound), want: KindNotFound},
		{name: "forbidden", err: ErrForbidden, want: KindForbidden},
		{name: "unauthenticated", err: ErrUnauthenticated, want: KindUnauthenticated},
		{name: "insufficient stock", err: &InsufficientStockError{ProductID: "p-1", Requested: 3, Available: 2}, want: KindConflict},
		{name: "already rated", err: ErrAlreadyRated, want: KindConflict},
		{name: "version conflict", err: fmt.Errorf("save order: %w", ErrVersionConflict), want: KindConcurrentUpdate},
		{name: "unknown", err: errors.New("connection reset"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestInsufficientStockError(t *testing.T) {
	err := error(&InsufficientStockError{ProductID: "p-1", Name: "Bamboo Brush", Requested: 3, Available: 2})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match ErrInsufficientStock")
	}
	if got, want := err.Error(), "Insufficient stock for Bamboo Brush. Available: 2"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}

	var stockErr *InsufficientStockError
	if !errors.As(fmt.Errorf("reserve: %w", err), &stockErr) {
		t.Fatal("expected errors.As to unwrap InsufficientStockError")
	}
	if stockErr.Requested != 3 {
		t.Fatalf("requested=%d, want 3", stockErr.Requested)
	}

	noName := &InsufficientStockError{ProductID: "p-2", Available: 0}
	if got, want := noName.Error(), "Insufficient stock for p-2. Available: 0"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
}
