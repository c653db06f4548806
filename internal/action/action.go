package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
)

// Lookup возвращает текущее (без оверрайдов) значение домена или nil.
type Lookup func(d domain.Domain) domain.Payload

// Change — новое значение одного домена.
type Change struct {
	Domain  domain.Domain
	Payload domain.Payload
}

// Plan — что сделать с доменами на шаге действия и что сказать оператору.
type Plan struct {
	Changes []Change
	Notice  string
}

// Result — итог удаленного вызова.
type Result struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Action — долгое действие оператора.
//
// Begin строит оверрайды на время ожидания, Finalize — записи для хранилища
// после успеха. Refetch перечисляет домены, которые стоит перезагрузить с бэкенда,
// когда тот успеет догнать итог.
type Action interface {
	Name() string
	Title() string
	Begin(current Lookup, at time.Time) Plan
	Execute(ctx context.Context) (Result, error)
	Finalize(current Lookup, res Result, at time.Time) Plan
	Refetch() []domain.Domain
}

// ErrRejected — бэкенд ответил success=false.
var ErrRejected = errors.New("rejected by backend")

// SuccessPerformance — производительность агента после полного прогона.
const SuccessPerformance = 98

// Processor — удаленный вызов "обработать всех клиентов".
type Processor interface {
	ProcessAll(ctx context.Context) (remote.ProcessResult, error)
}

// ProcessAllAction — "запустить агента по всем клиентам".
type ProcessAllAction struct {
	api Processor
}

var _ Action = (*ProcessAllAction)(nil)

const ProcessAllName = "process-all"

func NewProcessAll(api Processor) *ProcessAllAction {
	return &ProcessAllAction{api: api}
}

func (*ProcessAllAction) Name() string  { return ProcessAllName }
func (*ProcessAllAction) Title() string { return "Processing all clients" }

func (*ProcessAllAction) Begin(current Lookup, at time.Time) Plan {
	agent, _ := current(domain.AgentStatus).(domain.AgentStatusPayload)
	agent.Status = domain.AgentProcessing
	agent.StatusText = "Processing all clients..."
	agent.Processing = true

	last, _ := current(domain.LastUpdate).(domain.LastUpdatePayload)
	last.At = at
	last.Processing = true

	return Plan{
		Changes: []Change{
			{Domain: domain.AgentStatus, Payload: agent},
			{Domain: domain.LastUpdate, Payload: last},
		},
		Notice: "Processing all clients...",
	}
}

func (a *ProcessAllAction) Execute(ctx context.Context) (Result, error) {
	res, err := a.api.ProcessAll(ctx)
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		if res.Message != "" {
			return Result{}, fmt.Errorf("%w: %s", ErrRejected, res.Message)
		}
		return Result{}, ErrRejected
	}
	return Result{Processed: res.Processed, Total: res.TotalClients, Message: res.Message}, nil
}

func (*ProcessAllAction) Finalize(current Lookup, res Result, at time.Time) Plan {
	agent, _ := current(domain.AgentStatus).(domain.AgentStatusPayload)
	agent.Status = domain.AgentOnline
	agent.StatusText = "Agent active"
	agent.Processing = false
	agent.LastExecution = at
	agent.NextSync = time.Time{}
	agent.Performance = performance(res)
	agent.ExecutionsToday++

	changes := []Change{
		{Domain: domain.AgentStatus, Payload: agent},
		{Domain: domain.LastUpdate, Payload: domain.LastUpdatePayload{
			At:           at,
			Processed:    res.Processed,
			TotalClients: res.Total,
		}},
	}

	// Время синхронизации — по каждому известному клиенту отдельной записью
	if perf, ok := current(domain.ClientPerformance).(domain.ClientPerformancePayload); ok {
		for _, cl := range perf.Clients {
			if cl.ID == "" {
				continue
			}
			changes = append(changes, Change{
				Domain: domain.ClientSync(cl.ID),
				Payload: domain.ClientSyncPayload{
					ClientID:   cl.ID,
					ClientName: cl.Name,
					LastSync:   at,
				},
			})
		}
	}

	return Plan{
		Changes: changes,
		Notice:  fmt.Sprintf("Processed %d of %d clients", res.Processed, res.Total),
	}
}

func (*ProcessAllAction) Refetch() []domain.Domain {
	return []domain.Domain{domain.AgentStatus, domain.ClientPerformance, domain.Overview}
}

func performance(res Result) int {
	if res.Total <= 0 || res.Processed >= res.Total {
		return SuccessPerformance
	}
	return res.Processed * SuccessPerformance / res.Total
}
