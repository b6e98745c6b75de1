package tasks

import (
	"errors"
	"time"

	"github.com/lysyi3m/feed-comb/app/database"
	"github.com/lysyi3m/feed-comb/app/feed"
	"github.com/lysyi3m/feed-comb/app/graph"
)

var ErrUnknownFeed = errors.New("unknown feed")

type State string

const (
	StateIdle     State = "idle"
	StateDue      State = "due"
	StateFetching State = "fetching"
	StateBackoff  State = "backoff"
)

// ScheduleState is the per-source bookkeeping owned by the Scheduler.
type ScheduleState struct {
	State         State
	LastSuccessAt time.Time
	LastAttemptAt time.Time
	LastModified  string
	ETag          string
	Failures      int
	LastError     string
	LastErrorKind feed.ErrorKind
	NextDueAt     time.Time
}

type NodeStatus struct {
	Name    string
	Kind    graph.Kind
	Enabled bool
	ScheduleState
}

type Options struct {
	WorkerCount    int
	Interval       time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	TidySchedule   string // cron expression, empty disables the tidy task
}

// ScheduleStateFromFetchState restores the persisted part of a schedule.
// A node that was fetching when the process stopped is due again.
func ScheduleStateFromFetchState(fs database.FetchState) ScheduleState {
	state := StateIdle
	if fs.Failures > 0 && feed.ErrorKind(fs.LastErrorKind) == feed.ErrorKindTransient {
		state = StateBackoff
	}

	return ScheduleState{
		State:         state,
		LastSuccessAt: fs.LastSuccessAt,
		LastAttemptAt: fs.LastAttemptAt,
		LastModified:  fs.LastModified,
		ETag:          fs.ETag,
		Failures:      fs.Failures,
		LastError:     fs.LastError,
		LastErrorKind: feed.ErrorKind(fs.LastErrorKind),
		NextDueAt:     fs.NextFetchAt,
	}
}

func (s ScheduleState) fetchState() database.FetchState {
	return database.FetchState{
		LastSuccessAt: s.LastSuccessAt,
		LastAttemptAt: s.LastAttemptAt,
		NextFetchAt:   s.NextDueAt,
		LastModified:  s.LastModified,
		ETag:          s.ETag,
		Failures:      s.Failures,
		LastError:     s.LastError,
		LastErrorKind: string(s.LastErrorKind),
	}
}
