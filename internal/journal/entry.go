package journal

import (
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/action"
)

// Entry — завершенный запуск действия оператора.
type Entry struct {
	ID         string    `json:"id"`     // UUID записи
	RunID      string    `json:"run_id"` // ID запуска из контроллера
	Action     string    `json:"action"`
	State      string    `json:"state"` // succeeded, failed
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DurationMs — время выполнения действия.
func (e Entry) DurationMs() int64 {
	return e.FinishedAt.Sub(e.StartedAt).Milliseconds()
}

func entryFromStatus(st action.Status) Entry {
	e := Entry{
		RunID:      st.RunID,
		Action:     st.Action,
		State:      string(st.State),
		Error:      st.LastError,
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
	}
	if st.Result != nil {
		e.Processed = st.Result.Processed
		e.Total = st.Result.Total
	}
	return e
}
