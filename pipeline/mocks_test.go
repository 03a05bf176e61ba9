package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/araliadata/openrag/aralia"
	"github.com/araliadata/openrag/llm"
)

// mockLLM scripts gateway responses per call. A successful call adds
// perCall to the cumulative usage, mirroring the real gateway.
type mockLLM struct {
	mu      sync.Mutex
	invokes int
	structs int
	usage   llm.TokenUsage

	perCall    llm.TokenUsage
	invoke     func(call int, messages []llm.Message) (string, error)
	structured func(call int, messages []llm.Message) (string, error)
}

func (m *mockLLM) Invoke(_ context.Context, messages []llm.Message) (*llm.Response, error) {
	m.mu.Lock()
	m.invokes++
	call := m.invokes
	m.mu.Unlock()

	if m.invoke == nil {
		return nil, errors.New("unexpected Invoke call")
	}
	content, err := m.invoke(call, messages)
	if err != nil {
		return nil, err
	}
	return m.respond(call, content), nil
}

func (m *mockLLM) InvokeStructured(_ context.Context, messages []llm.Message, out any) (*llm.Response, error) {
	m.mu.Lock()
	m.structs++
	call := m.structs
	m.mu.Unlock()

	if m.structured == nil {
		return nil, errors.New("unexpected InvokeStructured call")
	}
	content, err := m.structured(call, messages)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return nil, fmt.Errorf("decode structured response: %w", err)
	}
	return m.respond(call, content), nil
}

func (m *mockLLM) respond(call int, content string) *llm.Response {
	m.mu.Lock()
	m.usage = m.usage.Add(m.perCall)
	m.mu.Unlock()
	return &llm.Response{
		RequestID: fmt.Sprintf("req-%d", call),
		Content:   content,
		Usage:     m.perCall,
	}
}

func (m *mockLLM) Usage() llm.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

func (m *mockLLM) invokeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invokes
}

func (m *mockLLM) structuredCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.structs
}

// mockData scripts planet responses. Unset hooks return empty results.
type mockData struct {
	search     func(ctx context.Context, keyword string, pageSize int) ([]*aralia.Dataset, error)
	metadata   func(ctx context.Context, datasetID, sourceURL string) (map[string]*aralia.Column, error)
	filterOpts func(ctx context.Context, datasetID, sourceURL string, fields []*aralia.FilterField) error
	explore    func(ctx context.Context, chart *aralia.ChartSpec) ([]aralia.Row, error)

	mu           sync.Mutex
	explorations int
}

func (m *mockData) SearchDatasets(ctx context.Context, keyword string, pageSize int) ([]*aralia.Dataset, error) {
	if m.search == nil {
		return nil, nil
	}
	return m.search(ctx, keyword, pageSize)
}

func (m *mockData) DatasetMetadata(ctx context.Context, datasetID, sourceURL string) (map[string]*aralia.Column, error) {
	if m.metadata == nil {
		return nil, nil
	}
	return m.metadata(ctx, datasetID, sourceURL)
}

func (m *mockData) FilterOptions(ctx context.Context, datasetID, sourceURL string, fields []*aralia.FilterField) error {
	if m.filterOpts == nil {
		return nil
	}
	return m.filterOpts(ctx, datasetID, sourceURL, fields)
}

func (m *mockData) Exploration(ctx context.Context, chart *aralia.ChartSpec) ([]aralia.Row, error) {
	m.mu.Lock()
	m.explorations++
	m.mu.Unlock()
	if m.explore == nil {
		return nil, nil
	}
	return m.explore(ctx, chart)
}

func (m *mockData) explorationCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.explorations
}

// metaColumns is the column catalog used across the stage tests.
func metaColumns() map[string]*aralia.Column {
	return map[string]*aralia.Column{
		"c-city":  {ColumnID: "c-city", DisplayName: "City", Type: aralia.TypeNominal},
		"c-date":  {ColumnID: "c-date", DisplayName: "Occurred", Type: aralia.TypeDate},
		"c-count": {ColumnID: "c-count", DisplayName: "Casualties", Type: aralia.TypeInteger},
	}
}
