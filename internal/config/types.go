package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Channels  ChannelsConfig  `json:"channels"`
	Publish   PublishConfig   `json:"publish"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Retention RetentionConfig `json:"retention,omitempty"`
	Justify   JustifyConfig   `json:"justify,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminUserIDs optionally restricts who may run control commands in
	// private chat. Empty means no restriction beyond channel membership.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

// ChannelsConfig names the chats the bot works with. Source is the private
// staging channel; Primary and Backup are redistribution targets; Preview
// receives dry runs.
type ChannelsConfig struct {
	Source  int64 `json:"source"`
	Primary int64 `json:"primary"`
	Backup  int64 `json:"backup,omitempty"`
	Preview int64 `json:"preview,omitempty"`
}

type PublishConfig struct {
	// Pause is the spacing between consecutive successful sends
	// (Go duration string). "0s" disables pacing.
	Pause string `json:"pause,omitempty"`
	// BackupEnabled is the initial state of the backup mirror toggle.
	BackupEnabled bool `json:"backup_enabled,omitempty"`
}

type ScheduleConfig struct {
	// Timezone interprets scheduled datetimes, e.g.
	// "America/Argentina/Buenos_Aires". Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

// RetentionConfig controls pruning of already-published rows.
type RetentionConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// KeepSent is how long published rows stay around (Go duration string).
	KeepSent string `json:"keep_sent,omitempty"`
	// Cron is a standard 5-field cron expression for the prune pass.
	Cron string `json:"cron,omitempty"`
}

// JustifyConfig controls protected deep-link deliveries from a dedicated
// justifications channel.
type JustifyConfig struct {
	Enabled bool  `json:"enabled,omitempty"`
	Channel int64 `json:"channel,omitempty"`
	// TTL is how long the delivered copy survives before auto-delete.
	TTL string `json:"ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ApplyEnv fills unset fields from the environment so the bot can run from a
// minimal (or absent) file the way the hosted deployment does.
func (c *Config) ApplyEnv() {
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv("BOT_TOKEN")
	}
	applyEnvInt64(&c.Channels.Source, "SOURCE_CHAT_ID")
	applyEnvInt64(&c.Channels.Primary, "TARGET_CHAT_ID")
	applyEnvInt64(&c.Channels.Backup, "BACKUP_CHAT_ID")
	applyEnvInt64(&c.Channels.Preview, "PREVIEW_CHAT_ID")
	if c.Storage.Path == "" {
		c.Storage.Path = os.Getenv("DB_FILE")
	}
	if c.Publish.Pause == "" {
		if v := strings.TrimSpace(os.Getenv("PAUSE")); v != "" {
			// A plain number means seconds.
			if _, err := strconv.Atoi(v); err == nil {
				v += "s"
			}
			c.Publish.Pause = v
		}
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = os.Getenv("TIMEZONE")
	}
}

func applyEnvInt64(dst *int64, key string) {
	if *dst != 0 {
		return
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or BOT_TOKEN)")
	}
	if c.Channels.Source == 0 {
		return fmt.Errorf("channels.source is required (or SOURCE_CHAT_ID)")
	}
	if c.Channels.Primary == 0 {
		return fmt.Errorf("channels.primary is required (or TARGET_CHAT_ID)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required (or DB_FILE)")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("publish.pause", c.Publish.Pause); err != nil {
		return err
	}
	if _, err := ParseDurationField("retention.keep_sent", c.Retention.KeepSent); err != nil {
		return err
	}
	if _, err := ParseDurationField("justify.ttl", c.Justify.TTL); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// Location resolves the schedule timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseDurationField parses an optional duration field. Empty means zero;
// negatives are rejected with the field's config path in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for fields left empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
