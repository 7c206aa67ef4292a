package embedding

import (
	"context"
	"time"
)

// InputType hints whether the input is a search query or a stored document.
// Some providers embed the two differently.
type InputType string

const (
	InputTypeQuery    InputType = "query"
	InputTypeDocument InputType = "document"
)

// EmbeddingRequest is a provider-agnostic embedding request.
type EmbeddingRequest struct {
	Input      []string
	Model      string
	Dimensions int
	InputType  InputType
}

// EmbeddingData is one embedding in a response.
type EmbeddingData struct {
	Index     int
	Embedding []float64
}

// EmbeddingUsage reports token consumption.
type EmbeddingUsage struct {
	PromptTokens int
	TotalTokens  int
}

// EmbeddingResponse is a provider-agnostic embedding response.
type EmbeddingResponse struct {
	Provider   string
	Model      string
	Embeddings []EmbeddingData
	Usage      EmbeddingUsage
	CreatedAt  time.Time
}

// Provider generates embeddings for text.
type Provider interface {
	Name() string
	Dimensions() int
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)
}

// ErrorCode classifies embedding failures.
type ErrorCode string

const (
	ErrUnauthorized   ErrorCode = "EMBEDDING_UNAUTHORIZED"
	ErrForbidden      ErrorCode = "EMBEDDING_FORBIDDEN"
	ErrRateLimited    ErrorCode = "EMBEDDING_RATE_LIMITED"
	ErrInvalidRequest ErrorCode = "EMBEDDING_INVALID_REQUEST"
	ErrUpstreamError  ErrorCode = "EMBEDDING_UPSTREAM_ERROR"
)

// Error is a typed embedding failure.
type Error struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Retryable  bool
	Provider   string
}

func (e *Error) Error() string { return e.Message }
