// Package usage classifies quota consumption and keeps the word and storage
// counters in sync across processes sharing the store.
package usage

import (
	"fmt"

	"github.com/kalambet/botdash/internal/backend"
)

// Level is the severity band of a quota percentage.
type Level int

const (
	Neutral Level = iota
	Warning
	Critical
	Blocking
)

func (l Level) String() string {
	switch l {
	case Neutral:
		return "neutral"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Blocking:
		return "blocking"
	}
	return "unknown"
}

// Classify maps a percentage to its Level. Each band includes its lower
// bound: 75 is Warning, 90 is Critical, 100 is Blocking.
func Classify(percent float64) Level {
	switch {
	case percent >= 100:
		return Blocking
	case percent >= 90:
		return Critical
	case percent >= 75:
		return Warning
	default:
		return Neutral
	}
}

// Percent returns used as a percentage of limit, or 0 when there is no limit.
func Percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// Metric names a quota.
type Metric string

const (
	Words   Metric = "word"
	Storage Metric = "storage"
)

// Message returns the text shown next to a quota bar. Neutral has none.
func (l Level) Message(m Metric) string {
	switch l {
	case Warning:
		return fmt.Sprintf("You are approaching your %s limit.", m)
	case Critical:
		return fmt.Sprintf("Your %s usage is critical.", m)
	case Blocking:
		return fmt.Sprintf("You have reached your %s limit. Upgrade your plan to continue.", m)
	}
	return ""
}

// Quota is one metric ready for display.
type Quota struct {
	Metric  Metric  `json:"metric"`
	Used    int64   `json:"used"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent"`
	Level   string  `json:"level"`
	Message string  `json:"message,omitempty"`
}

func quota(m Metric, used, limit int64) Quota {
	pct := Percent(used, limit)
	lvl := Classify(pct)
	return Quota{
		Metric:  m,
		Used:    used,
		Limit:   limit,
		Percent: pct,
		Level:   lvl.String(),
		Message: lvl.Message(m),
	}
}

// WordsQuota classifies global word usage against the plan limit.
func WordsQuota(u backend.Usage) Quota {
	return quota(Words, u.GlobalWordsUsed, u.PlanLimit)
}

// StorageQuota classifies global storage usage against the storage limit.
func StorageQuota(u backend.Usage) Quota {
	return quota(Storage, u.GlobalStorageUsed, u.StorageLimit)
}
