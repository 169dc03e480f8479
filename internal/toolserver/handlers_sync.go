package toolserver

import (
	"context"
	"encoding/json"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
)

type syncNowArgs struct {
	Force bool `json:"force"`
}

// handleSyncNow runs a full (force=true) or incremental sync pass and
// returns the resulting state. Per §7, governance and validation failures
// for individual items surface inside State.FailedItems rather than as a
// Go error — handleSyncNow returns an error for a run that could not
// start at all (lock contention, persister failure) or that failed to read
// the knowledge repository or write memory during the run.
func handleSyncNow(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args syncNowArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, loomerr.Validation("sync_now_bad_arguments", err.Error())
		}
	}

	var runErr error
	if args.Force {
		runErr = s.sync.SyncAll(ctx, tc)
	} else {
		runErr = s.sync.SyncIncremental(ctx, tc)
	}
	if runErr != nil {
		return nil, runErr
	}
	return s.sync.GetState(ctx, tc)
}

func handleSyncStatus(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	return s.sync.GetState(ctx, tc)
}
