package audit

import (
	"context"
	"fmt"

	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/Monthlyaway/short-rules/internal/repository"
	"go.uber.org/zap"
)

// Recorder appends best-effort audit entries to the log table. A failed
// write gets one degraded retry; a second failure is swallowed so audit
// trouble never reaches caller control flow.
type Recorder struct {
	repo   *repository.RuleRepository
	logger *zap.Logger
}

// NewRecorder creates a new audit recorder
func NewRecorder(repo *repository.RuleRepository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists one audit entry for the given owner (nil when the
// owner is unknown), logical process name and message. Never returns
// an error.
func (r *Recorder) Record(ctx context.Context, owner *model.Owner, process, message string) {
	entry := &model.Log{
		Process: process,
		Execute: message,
	}
	if owner != nil {
		ownerID := owner.ID
		entry.OwnerID = &ownerID
	}

	err := r.repo.CreateLog(ctx, entry)
	if err == nil {
		return
	}
	r.logger.Warn("audit write failed, retrying degraded",
		zap.String("process", process), zap.Error(err))

	// Degraded attempt: drop identity, synthesize the message
	fallback := &model.Log{
		Execute: fmt.Sprintf("failed to record audit entry for owner <%s> in process %s", ownerLabel(owner), process),
	}
	if err := r.repo.CreateLog(ctx, fallback); err != nil {
		r.logger.Error("degraded audit write failed, dropping entry",
			zap.String("process", process), zap.Error(err))
	}
}

func ownerLabel(owner *model.Owner) string {
	if owner == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", owner.ID)
}
