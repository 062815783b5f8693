package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockEmbeddingsService implements EmbeddingsService for testing
type mockEmbeddingsService struct {
	response  *openai.CreateEmbeddingResponse
	err       error
	callCount int
	lastInput []string
	lastDims  int64
}

func (m *mockEmbeddingsService) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.callCount++
	if params.Input.Value != nil {
		if arr, ok := params.Input.Value.(openai.EmbeddingNewParamsInputArrayOfStrings); ok {
			m.lastInput = []string(arr)
		}
	}
	if params.Dimensions.Present {
		m.lastDims = params.Dimensions.Value
	}
	return m.response, m.err
}

func mockResponse(embeddings [][]float64, indices []int64) *openai.CreateEmbeddingResponse {
	data := make([]openai.Embedding, len(embeddings))
	for i, emb := range embeddings {
		idx := int64(i)
		if indices != nil {
			idx = indices[i]
		}
		data[i] = openai.Embedding{Embedding: emb, Index: idx}
	}
	return &openai.CreateEmbeddingResponse{Data: data}
}

func TestOpenAI_Embed(t *testing.T) {
	mock := &mockEmbeddingsService{response: mockResponse([][]float64{{0.1, 0.2, 0.3}}, nil)}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small", dimensions: 3}

	got, err := o.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if mock.lastInput[0] != "hello" {
		t.Errorf("input = %v", mock.lastInput)
	}
	if mock.lastDims != 3 {
		t.Errorf("dimensions param = %d, want 3", mock.lastDims)
	}
}

func TestOpenAI_Embed_Error(t *testing.T) {
	mock := &mockEmbeddingsService{err: errors.New("boom")}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	if _, err := o.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error")
	}
}

func TestOpenAI_Embed_EmptyResponse(t *testing.T) {
	mock := &mockEmbeddingsService{response: &openai.CreateEmbeddingResponse{}}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	if _, err := o.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for empty response")
	}
}

func TestOpenAI_EmbedBatch_RestoresOrder(t *testing.T) {
	// Response arrives out of order; batch must sort by index.
	mock := &mockEmbeddingsService{response: mockResponse(
		[][]float64{{2, 2}, {1, 1}}, []int64{1, 0},
	)}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	got, err := o.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("batch order not restored: %v", got)
	}
}

func TestOpenAI_EmbedBatch_CountMismatch(t *testing.T) {
	mock := &mockEmbeddingsService{response: mockResponse([][]float64{{1, 1}}, nil)}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	if _, err := o.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected count mismatch error")
	}
}

func TestOpenAI_EmbedBatch_Empty(t *testing.T) {
	mock := &mockEmbeddingsService{}
	o := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	got, err := o.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if mock.callCount != 0 {
		t.Error("empty batch should not call the API")
	}
}

func TestOpenAI_ModelName(t *testing.T) {
	o := &OpenAI{model: "text-embedding-3-small"}
	if o.ModelName() != "text-embedding-3-small" {
		t.Errorf("model name = %s", o.ModelName())
	}
}
