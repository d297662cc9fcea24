package config

import "time"

// Config is the root configuration for Magpie.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Drivers     DriversConfig     `json:"drivers"`
	Storage     StorageConfig     `json:"storage"`
	Events      EventsConfig      `json:"events"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SchedulerConfig bounds the task executor.
type SchedulerConfig struct {
	MaxWorkers   int      `json:"max_workers"`   // concurrent scrape executions
	PollInterval Duration `json:"poll_interval"` // driver checkout retry interval
	TickInterval Duration `json:"tick_interval"` // admission loop tick
}

// DriversConfig configures the browser driver pool.
type DriversConfig struct {
	Capacity      int      `json:"capacity"`
	Visible       bool     `json:"visible"`                // show browser windows (headless otherwise)
	BrowserPath   string   `json:"browser_path,omitempty"` // empty = autodetect
	NavTimeout    Duration `json:"nav_timeout"`
	StableTimeout Duration `json:"stable_timeout"`
	ProfilePath   string   `json:"profile_path,omitempty"` // site profile YAML (empty = built-in)
}

// StorageConfig holds on-disk storage settings.
type StorageConfig struct {
	DataDir string `json:"data_dir"` // default: $MAGPIE_PATH
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int        `json:"buffer_size"`
	NATS       NATSConfig `json:"nats"`
}

// NATSConfig configures the optional external event sink.
type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// MaintenanceConfig drives the periodic sweeper.
type MaintenanceConfig struct {
	SweepSchedule string   `json:"sweep_schedule"` // 5-field cron expression
	EvictAfter    Duration `json:"evict_after"`    // terminal task retention in the registry
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "text", "json", "auto"
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
