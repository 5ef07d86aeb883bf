package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

func TestWrapErrorClassifiesStatus(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("orders.create", status.Error(tc.code, "backend said no"))
			if repositories.IsNotFound(err) != tc.notFound ||
				repositories.IsConflict(err) != tc.conflict ||
				repositories.IsUnavailable(err) != tc.unavailable {
				t.Fatalf("unexpected classification for %v: %v", tc.code, err)
			}
			if status.Code(errors.Unwrap(err)) != tc.code {
				t.Fatalf("expected the status to stay reachable, got %v", err)
			}
		})
	}
}

func TestWrapErrorKeepsContextErrors(t *testing.T) {
	if err := WrapError("get", status.Error(codes.Canceled, "canceled")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("get", status.FromContextError(context.DeadlineExceeded).Err()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if err := WrapError("get", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapErrorKeepsFirstOp(t *testing.T) {
	inner := WrapError("", status.Error(codes.AlreadyExists, "exists"))
	outer := WrapError("wallet_entries.create", inner)

	var storeErr *repositories.StoreError
	if !errors.As(outer, &storeErr) {
		t.Fatalf("expected a StoreError, got %T", outer)
	}
	if storeErr.Op != "wallet_entries.create" || storeErr.Kind != repositories.KindConflict {
		t.Fatalf("unexpected error %+v", storeErr)
	}
}
