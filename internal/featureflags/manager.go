// Package featureflags reads the FEATURE_FLAGS setting, a comma separated
// list of name=value pairs such as "job_vod_purge=off,event_stream=25%".
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flag names read by the engine. Job flags default to on and only an explicit
// off value stops the job.
const (
	JobScheduleSync  = "job_schedule_sync"
	JobFinalizeQueue = "job_finalize_queue"
	JobStartQueue    = "job_start_queue"
	JobRecovery      = "job_recovery"
	JobVodStatsFlush = "job_vod_stats_flush"
	JobVodPurge      = "job_vod_purge"

	// AutoRecording starts the recording when the seller's stream appears.
	AutoRecording = "auto_recording"
	// EventStream mirrors lifecycle events to Kinesis when a stream is configured.
	EventStream = "event_stream"
)

// rollout is a parsed flag value. on is 100, off is 0, and pct is -1 for a
// value that is neither a switch nor a percentage.
type rollout struct {
	raw string
	pct int
}

func parseValue(v string) rollout {
	switch v {
	case "on", "true", "1":
		return rollout{raw: v, pct: 100}
	case "off", "false", "0":
		return rollout{raw: v, pct: 0}
	}
	if n, ok := strings.CutSuffix(v, "%"); ok {
		if pct, err := strconv.Atoi(n); err == nil {
			return rollout{raw: v, pct: min(max(pct, 0), 100)}
		}
	}
	return rollout{raw: v, pct: -1}
}

type Manager struct {
	flags map[string]rollout
}

// NewManager parses raw. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	flags := make(map[string]rollout)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, value = normalize(name), normalize(value)
		if name == "" || value == "" {
			continue
		}
		flags[name] = parseValue(value)
	}
	return &Manager{flags: flags}
}

// Enabled reports whether name is on for sellerID. Unset flags are off.
// A percentage puts a stable slice of sellers in; seller 0 is never in a
// partial rollout.
func (m *Manager) Enabled(name string, sellerID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.flags[normalize(name)]
	switch {
	case !ok || r.pct <= 0:
		return false
	case r.pct >= 100:
		return true
	case sellerID == 0:
		return false
	}
	return bucket(name, sellerID) < r.pct
}

// On reports whether a default-on flag is still on: anything but an
// explicit off keeps it running.
func (m *Manager) On(name string) bool {
	if m == nil {
		return true
	}
	r, ok := m.flags[normalize(name)]
	return !ok || r.pct != 0
}

// Raw returns the configured values as written, normalized to lower case.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, r := range m.flags {
		out[k] = r.raw
	}
	return out
}

// Snapshot evaluates every configured flag for one seller.
func (m *Manager) Snapshot(sellerID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, sellerID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, sellerID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + strconv.FormatUint(uint64(sellerID), 10)))
	return int(h.Sum32() % 100)
}
