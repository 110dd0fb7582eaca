package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openzap/openzap/pkg/registry"
)

// mockStore is an in-memory Store for engine tests.
type mockStore struct {
	mu sync.Mutex

	zaps     []*Zap
	steps    map[string][]*Step
	triggers map[string]*TriggerDefinition
	actions  map[string]*ActionDefinition
	tokens   map[string]string

	executions     map[string]*Execution
	executionOrder []string
	stepExecutions map[string]*StepExecution
	stepOrder      []string
	deleted        []string
	nextID         int

	listCalls int
	listErr   error
	deleteErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		steps:          make(map[string][]*Step),
		triggers:       make(map[string]*TriggerDefinition),
		actions:        make(map[string]*ActionDefinition),
		tokens:         make(map[string]string),
		executions:     make(map[string]*Execution),
		stepExecutions: make(map[string]*StepExecution),
	}
}

func (m *mockStore) addZap(z *Zap, steps ...*Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zaps = append(m.zaps, z)
	for _, s := range steps {
		s.ZapID = z.ID
	}
	m.steps[z.ID] = steps
}

func (m *mockStore) ListActiveZaps(_ context.Context) ([]*Zap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*Zap, 0, len(m.zaps))
	for _, z := range m.zaps {
		if z.IsActive {
			cp := *z
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) GetZap(_ context.Context, id string) (*Zap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, z := range m.zaps {
		if z.ID == id {
			cp := *z
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListSteps(_ context.Context, zapID string) ([]*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := append([]*Step(nil), m.steps[zapID]...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (m *mockStore) GetTrigger(_ context.Context, id string) (*TriggerDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers[id], nil
}

func (m *mockStore) GetAction(_ context.Context, id string) (*ActionDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actions[id], nil
}

func (m *mockStore) GetAccessToken(_ context.Context, connectionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[connectionID]
	return token, ok && token != "", nil
}

func (m *mockStore) StartZapExecution(_ context.Context, zapID string, startedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("exec-%d", m.nextID)
	m.executions[id] = &Execution{ID: id, ZapID: zapID, Status: ExecutionStatusInProgress, StartedAt: startedAt}
	m.executionOrder = append(m.executionOrder, id)
	return id, nil
}

func (m *mockStore) FinishZapExecution(_ context.Context, executionID, zapID string, status ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[executionID]
	if !ok {
		return errors.New("execution not found")
	}
	if e.Status != ExecutionStatusInProgress {
		return errors.New("execution already closed")
	}
	e.Status = status
	e.EndedAt = &endedAt
	e.Duration = duration
	e.Error = errMsg
	if status == ExecutionStatusDone {
		for _, z := range m.zaps {
			if z.ID == zapID {
				t := endedAt
				z.LastRunAt = &t
			}
		}
	}
	return nil
}

func (m *mockStore) DeleteZapExecution(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.executions[executionID]; !ok {
		return errors.New("execution not found")
	}
	delete(m.executions, executionID)
	for id, se := range m.stepExecutions {
		if se.ExecutionID == executionID {
			delete(m.stepExecutions, id)
		}
	}
	m.deleted = append(m.deleted, executionID)
	return nil
}

func (m *mockStore) StartStepExecution(_ context.Context, stepID, executionID string, startedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("stepexec-%d", m.nextID)
	m.stepExecutions[id] = &StepExecution{
		ID: id, ExecutionID: executionID, StepID: stepID,
		Status: ExecutionStatusInProgress, StartedAt: startedAt,
	}
	m.stepOrder = append(m.stepOrder, id)
	return id, nil
}

func (m *mockStore) FinishStepExecution(_ context.Context, id string, data map[string]any, status ExecutionStatus, endedAt time.Time, duration time.Duration, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.stepExecutions[id]
	if !ok {
		return errors.New("step execution not found")
	}
	if se.Status != ExecutionStatusInProgress {
		return errors.New("step execution already closed")
	}
	se.Status = status
	se.Data = data
	se.EndedAt = &endedAt
	se.Duration = duration
	se.Error = errMsg
	return nil
}

func (m *mockStore) LatestZapExecution(_ context.Context, zapID string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.executionOrder) - 1; i >= 0; i-- {
		e, ok := m.executions[m.executionOrder[i]]
		if ok && e.ZapID == zapID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// executionsFor returns the surviving executions of a zap in creation order.
func (m *mockStore) executionsFor(zapID string) []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Execution
	for _, id := range m.executionOrder {
		if e, ok := m.executions[id]; ok && e.ZapID == zapID {
			out = append(out, *e)
		}
	}
	return out
}

// stepExecutionsFor returns the step executions of one execution in
// creation order.
func (m *mockStore) stepExecutionsFor(executionID string) []StepExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StepExecution
	for _, id := range m.stepOrder {
		if se, ok := m.stepExecutions[id]; ok && se.ExecutionID == executionID {
			out = append(out, *se)
		}
	}
	return out
}

// inProgress counts records left in_progress.
func (m *mockStore) inProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.executions {
		if e.Status == ExecutionStatusInProgress {
			n++
		}
	}
	for _, se := range m.stepExecutions {
		if se.Status == ExecutionStatusInProgress {
			n++
		}
	}
	return n
}

func (m *mockStore) lastRunAt(zapID string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, z := range m.zaps {
		if z.ID == zapID {
			return z.LastRunAt
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

// Fixture helpers.

func triggerStep(id, triggerID string) *Step {
	return &Step{ID: id, StepType: StepTypeTrigger, StepOrder: 0, TriggerID: triggerID}
}

func actionStep(id string, order int, actionID string, source *string, payload map[string]any) *Step {
	return &Step{
		ID:           id,
		StepType:     StepTypeAction,
		StepOrder:    order,
		ActionID:     actionID,
		SourceStepID: source,
		Payload:      payload,
	}
}

// recorderHandlers builds a registry whose handlers append to a shared call
// log.
type callLog struct {
	mu       sync.Mutex
	calls    []string
	payloads map[string]map[string]any
}

func (l *callLog) add(name string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
	if l.payloads == nil {
		l.payloads = make(map[string]map[string]any)
	}
	l.payloads[name] = payload
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) payload(name string) map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payloads[name]
}

// fixedTrigger returns a trigger factory that always yields result.
func fixedTrigger(log *callLog, name string, result registry.TriggerResult) registry.TriggerFactory {
	return func() registry.Trigger {
		return registry.TriggerFunc(func(_ context.Context, _ registry.Credential, payload map[string]any) (registry.TriggerResult, error) {
			log.add(name, payload)
			return result, nil
		})
	}
}

// echoAction returns an action factory that records its payload and
// returns it, plus a marker, as output.
func echoAction(log *callLog, name string) registry.ActionFactory {
	return func() registry.Action {
		return registry.ActionFunc(func(_ context.Context, _ registry.Credential, payload map[string]any) (registry.ActionResult, error) {
			log.add(name, payload)
			data := map[string]any{"ran": name}
			for k, v := range payload {
				data[k] = v
			}
			return registry.ActionResult{HasRun: true, Data: data}, nil
		})
	}
}
