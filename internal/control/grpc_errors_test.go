package control

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/kb"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid argument", err: fmt.Errorf("%w: bad fov", ErrInvalidArgument), code: codes.InvalidArgument},
		{name: "invalid source", err: fmt.Errorf("tle: %w", kb.ErrInvalidSource), code: codes.InvalidArgument},
		{name: "not found", err: fmt.Errorf("target: %w", kb.ErrNotFound), code: codes.NotFound},
		{name: "stale", err: kb.ErrStale, code: codes.NotFound},
		{name: "rejected", err: kb.ErrRejected, code: codes.FailedPrecondition},
		{name: "duplicate", err: kb.ErrDuplicateOID, code: codes.AlreadyExists},
		{name: "released", err: core.ErrReleased, code: codes.Unavailable},
		{name: "mailbox closed", err: ErrMailboxClosed, code: codes.Unavailable},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
