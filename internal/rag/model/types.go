// Package model holds the data model shared across the RAG core: the
// document/chunk hierarchy, embedding and index configuration, agent and
// prompt-template records. All identifiers are opaque strings; chunk ids
// are derived deterministically from their owning document.
package model

import (
	"fmt"
	"time"
)

// Document is an immutable (after ingestion) piece of source content.
type Document struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Chunks   []*Chunk               `json:"chunks,omitempty"`
}

// Chunk is the smallest retrievable unit of text, derived from a Document.
// Embeddings carries one vector per configured embedding model id; the
// invariant len(vector) == model.Dimensions must hold for every entry.
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embeddings map[string][]float64   `json:"embeddings,omitempty"`
}

// ChunkID derives the deterministic id for the chunk at index i of doc.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}

// Provider enumerates the supported embedding providers.
type Provider string

const (
	ProviderOpenAI              Provider = "openai"
	ProviderAzureOpenAI         Provider = "azure"
	ProviderCohere              Provider = "cohere"
	ProviderHuggingFace         Provider = "huggingface"
	ProviderGoogle              Provider = "google"
	ProviderLocalSentenceXform  Provider = "local-sentence-transformer"
	ProviderLocalHTTP           Provider = "local-http"
)

// EmbeddingModelConfig describes one configured embedding model.
type EmbeddingModelConfig struct {
	ID            string                 `json:"id"`
	Provider      Provider               `json:"provider"`
	RemoteModelID string                 `json:"remote_model_id"`
	Dimensions    int                    `json:"dimensions"`
	APIKeyEnv     string                 `json:"api_key_env,omitempty"`
	APIBaseURL    string                 `json:"api_base_url,omitempty"`
	Options       map[string]interface{} `json:"options,omitempty"`
	BatchSize     int                    `json:"batch_size"`
	Normalize     bool                   `json:"normalize"`
	CacheEnabled  bool                   `json:"cache_enabled"`
	Timeout       time.Duration          `json:"timeout"`
	RateLimitRPM  int                    `json:"rate_limit_rpm"`
}

// IndexConfig describes one vector index backend.
type IndexConfig struct {
	Dimensions int                    `json:"dimensions"`
	Metric     string                 `json:"metric"` // cosine|l2|dot|manhattan
	Backend    string                 `json:"backend"`
	Params     map[string]interface{} `json:"params,omitempty"`
	StoragePath string                `json:"storage_path,omitempty"`
}

// AgentConfig describes a configured ingestion source agent.
type AgentConfig struct {
	AgentID         string                 `json:"agent_id"`
	AgentType       string                 `json:"agent_type"`
	Name            string                 `json:"name"`
	SourceURL       string                 `json:"source_url"`
	Credentials     map[string]string      `json:"credentials,omitempty"`
	Schedule        string                 `json:"schedule"`
	Filters         map[string]interface{} `json:"filters,omitempty"`
	Options         map[string]interface{} `json:"options,omitempty"`
	MetadataMapping map[string]string      `json:"metadata_mapping,omitempty"`
	Enabled         bool                   `json:"enabled"`
	MaxItems        int                    `json:"max_items"`
	LastRun         time.Time              `json:"last_run,omitempty"`
	ErrorCount      int                    `json:"error_count"`
}

// AgentRun is the record of a single agent invocation.
type AgentRun struct {
	JobID        string      `json:"job_id"`
	AgentID      string      `json:"agent_id"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	Success      bool        `json:"success"`
	ItemCount    int         `json:"item_count"`
	Documents    []*Document `json:"documents,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// PromptTemplateType enumerates supported prompt template kinds.
type PromptTemplateType string

const (
	TemplateInstruction    PromptTemplateType = "instruction"
	TemplateChat           PromptTemplateType = "chat"
	TemplateRAG            PromptTemplateType = "rag"
	TemplateQA             PromptTemplateType = "qa"
	TemplateSummarization  PromptTemplateType = "summarisation"
	TemplateExtraction     PromptTemplateType = "extraction"
	TemplateClassification PromptTemplateType = "classification"
)

// PromptTemplate is a named, versioned rendering template.
type PromptTemplate struct {
	ID                    string                 `json:"id"`
	Type                  PromptTemplateType     `json:"type"`
	Template              string                 `json:"template"`
	DefaultParameters     map[string]interface{} `json:"default_parameters,omitempty"`
	ModelSpecificVersions map[string]string      `json:"model_specific_versions,omitempty"`
}

// ResultSource identifies which retrieval path produced a SearchResult.
type ResultSource string

const (
	SourceDense    ResultSource = "dense"
	SourceSparse   ResultSource = "sparse"
	SourceMetadata ResultSource = "metadata"
	SourceHybrid   ResultSource = "hybrid"
)

// SearchResult is one ranked chunk returned from a search/query operation.
type SearchResult struct {
	Chunk     *Chunk               `json:"chunk"`
	Score     float64              `json:"score"`
	Source    ResultSource         `json:"source"`
	SubScores map[string]float64   `json:"sub_scores,omitempty"`
}
