package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation names used in summaries, metrics and the merge pipeline.
const (
	OpJoin        = "join"
	OpDeduplicate = "deduplicate"
	OpNormalize   = "normalize"
	OpPrune       = "prune"
	OpAppend      = "append"
	OpMerge       = "merge"
)

// Summary is the outcome shared by every operation result.
type Summary struct {
	RunID          string
	Operation      string
	Success        bool
	Message        string
	Stats          *Stats
	FilesProcessed int
	Elapsed        time.Duration
	Warnings       []string
	Errors         []string
}

func newSummary(op string) Summary {
	return Summary{RunID: uuid.NewString(), Operation: op}
}

func (s *Summary) warnf(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// fail records err and returns it.
func (s *Summary) fail(err error) error {
	s.Success = false
	s.Errors = append(s.Errors, err.Error())
	s.Message = fmt.Sprintf("%s failed: %v", s.Operation, err)
	return err
}

func (s *Summary) succeed(format string, args ...any) {
	s.Success = true
	s.Message = fmt.Sprintf(format, args...)
}
