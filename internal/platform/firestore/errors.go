package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

// kindOf maps a Firestore status to the repository error kind the services branch on. Aborted is
// a lost transaction race and FailedPrecondition a stale update time, so both read as conflicts
// the unit of work retries.
func kindOf(code codes.Code) repositories.Kind {
	switch code {
	case codes.NotFound:
		return repositories.KindNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition, codes.OutOfRange:
		return repositories.KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.KindUnavailable
	default:
		return repositories.KindUnknown
	}
}

// WrapError turns a Firestore failure into a repositories.StoreError tagged with op. Context
// cancellation stays a context error so callers see why the request stopped.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		if ctxErr := contextCause(err); ctxErr != nil {
			return ctxErr
		}
	}
	return &repositories.StoreError{Op: op, Kind: kindOf(code), Err: err}
}

// contextCause reports a client-side deadline; a server-side DEADLINE_EXCEEDED carries no
// context error and is treated as an outage.
func contextCause(err error) error {
	if st, ok := status.FromError(err); ok && st.Message() == context.DeadlineExceeded.Error() {
		return context.DeadlineExceeded
	}
	return nil
}
