package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath    string
	RedisAddr string

	// Application configuration
	FeedsDir          string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	TidySchedule      string
	APIAccessKey      string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
