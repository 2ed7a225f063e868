package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("elasticsearch", newElasticsearch)
}

// elasticsearchAdapter stores vectors in a dense_vector field and
// queries them with a kNN search body. Grounded on the
// turtacn-kubestack-ai manifest's go-elasticsearch/v8 dependency (the
// pack's only source of this client); the request/response shapes
// follow the client's standard esapi.*Request builders the way the
// teacher's HTTP providers build requests with net/http — one shared
// low-level client, thin per-operation wrappers on top.
type elasticsearchAdapter struct {
	client *elasticsearch.Client
	index  string
	dims   int
	m      metric.Metric
}

func newElasticsearch(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	addr, _ := params["address"].(string)
	if addr == "" {
		addr = "http://localhost:9200"
	}
	indexName, _ := params["index"].(string)
	if indexName == "" {
		indexName = "modularmind"
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}
	return &elasticsearchAdapter{client: client, index: indexName, dims: dims, m: m}, nil
}

func (a *elasticsearchAdapter) esSimilarity() string {
	switch a.m {
	case metric.Dot:
		return "dot_product"
	case metric.L2:
		return "l2_norm"
	default:
		return "cosine"
	}
}

func (a *elasticsearchAdapter) Initialize(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{a.index}}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: index exists: %w", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"doc_id": map[string]interface{}{"type": "keyword"},
				"embedding": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       a.dims,
					"index":      true,
					"similarity": a.esSimilarity(),
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	res, err := esapi.IndicesCreateRequest{Index: a.index, Body: bytes.NewReader(body)}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: create index: %s", res.String())
	}
	return nil
}

func (a *elasticsearchAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return a.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (a *elasticsearchAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	var buf bytes.Buffer
	for i, vec := range vecs {
		v := vec
		if a.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": a.index, "_id": docIDs[i]}}
		metaLine, _ := json.Marshal(meta)
		doc := map[string]interface{}{"doc_id": docIDs[i], "embedding": v}
		docLine, _ := json.Marshal(doc)
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	res, err := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: bulk insert: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: bulk insert: %s", res.String())
	}
	return nil
}

func (a *elasticsearchAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	q := query
	if a.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":         "embedding",
			"query_vector":  q,
			"k":             topK,
			"num_candidates": topK * 10,
		},
		"_source": []string{"doc_id"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	res, err := esapi.SearchRequest{Index: []string{a.index}, Body: bytes.NewReader(payload)}.Do(ctx, a.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch: search: %s", res.String())
	}
	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elasticsearch: decode search response: %w", err)
	}
	out := make([]ScoredID, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		sim := a.esScoreToSimilarity(hit.Score)
		if sim < minScore {
			continue
		}
		out = append(out, ScoredID{DocID: hit.Source.DocID, Similarity: sim})
	}
	sortDescending(out)
	return out, nil
}

// esScoreToSimilarity maps Elasticsearch's kNN "_score" back to this
// module's uniform [0,1] similarity. For cosine similarity ES already
// scores as (1+cos)/2, the same convention metric.DistanceToSimilarity
// produces for Cosine, so it passes through unchanged. ES scores
// l2_norm as 1/(1+d^2), so d is recovered from the score before the
// shared distance mapping; dot_product goes through that mapping with
// the negated score as its distance.
func (a *elasticsearchAdapter) esScoreToSimilarity(score float64) float64 {
	if a.m == metric.Cosine {
		if score < 0 {
			return 0
		}
		if score > 1 {
			return 1
		}
		return score
	}
	if a.m == metric.L2 {
		if score <= 0 {
			return 0
		}
		return metric.DistanceToSimilarity(a.m, math.Sqrt(math.Max(1/score-1, 0)))
	}
	return metric.DistanceToSimilarity(a.m, -score)
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				DocID string `json:"doc_id"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (a *elasticsearchAdapter) DeleteItem(ctx context.Context, docID string) error {
	res, err := esapi.DeleteRequest{Index: a.index, DocumentID: docID}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: delete: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("elasticsearch: delete: %s", res.String())
	}
	return nil
}

func (a *elasticsearchAdapter) Save(ctx context.Context, path string) error { return nil }
func (a *elasticsearchAdapter) Load(ctx context.Context, path string) error { return nil }
func (a *elasticsearchAdapter) Optimize(ctx context.Context) error {
	res, err := esapi.IndicesForcemergeRequest{Index: []string{a.index}}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: forcemerge: %w", err)
	}
	defer res.Body.Close()
	return nil
}

func (a *elasticsearchAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	res, err := esapi.IndicesDeleteRequest{Index: []string{a.index}}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: delete index for rebuild: %w", err)
	}
	defer res.Body.Close()
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	return a.AddItemsBatch(ctx, vecs, docIDs)
}

func (a *elasticsearchAdapter) Stats(ctx context.Context) (Stats, error) {
	res, err := esapi.CountRequest{Index: []string{a.index}}.Do(ctx, a.client)
	if err != nil {
		return Stats{}, fmt.Errorf("elasticsearch: count: %w", err)
	}
	defer res.Body.Close()
	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Stats{}, fmt.Errorf("elasticsearch: decode count: %w", err)
	}
	return Stats{Backend: "elasticsearch", Count: parsed.Count, Dimensions: a.dims}, nil
}
