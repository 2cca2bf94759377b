package agent

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/ashwinyue/next-crm/internal/model"
)

// mockAgentRepository 内存版 Agent 仓库
type mockAgentRepository struct {
	agents    map[string]*model.Agent
	order     []string
	createErr error
}

func newMockAgentRepo() *mockAgentRepository {
	return &mockAgentRepository{agents: make(map[string]*model.Agent)}
}

func (m *mockAgentRepository) Create(a *model.Agent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.agents[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *mockAgentRepository) GetByID(id string) (*model.Agent, error) {
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAgentRepository) List(offset, limit int) ([]*model.Agent, error) {
	var out []*model.Agent
	for i := offset; i < len(m.order) && len(out) < limit; i++ {
		out = append(out, m.agents[m.order[i]])
	}
	return out, nil
}

func (m *mockAgentRepository) Update(a *model.Agent) error {
	m.agents[a.ID] = a
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestService_CreateAgent(t *testing.T) {
	tests := []struct {
		name    string
		req     *AgentRequest
		wantErr bool
	}{
		{"valid", &AgentRequest{Title: "销售助手", SystemRole: "You sell.", Plugins: []string{"crm"}}, false},
		{"custom temperature", &AgentRequest{Title: "a", Temperature: ptr(1.2), HistoryLen: ptr(5)}, false},
		{"missing title", &AgentRequest{Title: "  "}, true},
		{"temperature out of range", &AgentRequest{Title: "a", Temperature: ptr(3.0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMockAgentRepo())
			a, err := svc.CreateAgent(context.Background(), tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateAgent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if a.ID == "" {
				t.Error("CreateAgent() id is empty")
			}
			if tt.req.Temperature == nil && a.Temperature != 0.7 {
				t.Errorf("Temperature = %v, want default 0.7", a.Temperature)
			}
			if tt.req.HistoryLen != nil && a.HistoryLen != *tt.req.HistoryLen {
				t.Errorf("HistoryLen = %d, want %d", a.HistoryLen, *tt.req.HistoryLen)
			}
		})
	}
}

func TestService_GetAndResolve(t *testing.T) {
	repo := newMockAgentRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.CreateAgent(ctx, &AgentRequest{Title: "客服"})
	if err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	if _, err := svc.GetAgent(ctx, "missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("GetAgent(missing) error = %v, want ErrAgentNotFound", err)
	}
	if a, err := svc.GetAgent(ctx, model.BuiltinCustomerServiceID); err != nil || a.ID != model.BuiltinCustomerServiceID {
		t.Errorf("GetAgent(builtin) = %+v, %v", a, err)
	}

	if got := svc.Resolve(ctx, created.ID); got.ID != created.ID {
		t.Errorf("Resolve() = %s, want %s", got.ID, created.ID)
	}
	if got := svc.Resolve(ctx, "missing"); got.ID != model.BuiltinCustomerServiceID {
		t.Errorf("Resolve(missing) = %s, want builtin", got.ID)
	}
	if got := svc.Resolve(ctx, ""); got.ID != model.BuiltinCustomerServiceID {
		t.Errorf("Resolve(\"\") = %s, want builtin", got.ID)
	}
}

func TestService_ListAgents(t *testing.T) {
	svc := NewService(newMockAgentRepo())
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		if _, err := svc.CreateAgent(ctx, &AgentRequest{Title: title}); err != nil {
			t.Fatalf("CreateAgent() error = %v", err)
		}
	}

	first, err := svc.ListAgents(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(first) != 3 || first[0].ID != model.BuiltinCustomerServiceID {
		t.Errorf("first page = %d agents, want builtin + 2", len(first))
	}
	second, _ := svc.ListAgents(ctx, 2, 2)
	if len(second) != 1 || second[0].Title != "c" {
		t.Errorf("second page = %+v", second)
	}
}

func TestService_UpdateAgent(t *testing.T) {
	svc := NewService(newMockAgentRepo())
	ctx := context.Background()

	if _, err := svc.UpdateAgent(ctx, model.BuiltinCustomerServiceID, &AgentRequest{Title: "x"}); !errors.Is(err, ErrBuiltinAgent) {
		t.Errorf("UpdateAgent(builtin) error = %v, want ErrBuiltinAgent", err)
	}

	a, _ := svc.CreateAgent(ctx, &AgentRequest{Title: "old"})
	updated, err := svc.UpdateAgent(ctx, a.ID, &AgentRequest{Title: "new", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("UpdateAgent() error = %v", err)
	}
	if updated.Title != "new" || updated.Model != "gpt-4o" {
		t.Errorf("UpdateAgent() = %+v", updated)
	}
}
