package index

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("milvus", newMilvus)
}

const (
	milvusIDField        = "doc_id"
	milvusEmbeddingField = "embedding"
)

// milvusAdapter is grounded on the teacher's internal/rag/milvus.go
// MilvusDB: schema construction via entity.NewSchema/NewField, HNSW
// index creation, and the LoadCollection-before-search sequence are
// kept as-is, generalized from the teacher's free-form Record/Schema
// types to the fixed doc_id/embedding schema the Adapter contract
// needs. Save/Load are no-ops: data and the index both live
// server-side in Milvus.
type milvusAdapter struct {
	client     client.Client
	address    string
	collection string
	dims       int
	m          metric.Metric
}

func newMilvus(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	address, _ := params["address"].(string)
	if address == "" {
		address = "localhost:19530"
	}
	collection, _ := params["collection"].(string)
	if collection == "" {
		collection = "modularmind"
	}
	return &milvusAdapter{address: address, collection: collection, dims: dims, m: m}, nil
}

func (a *milvusAdapter) Initialize(ctx context.Context) error {
	c, err := client.NewClient(ctx, client.Config{Address: a.address})
	if err != nil {
		return fmt.Errorf("milvus: connect: %w", err)
	}
	a.client = c

	has, err := c.HasCollection(ctx, a.collection)
	if err != nil {
		return fmt.Errorf("milvus: has collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().WithName(a.collection).WithDescription("modularmind vector collection")
		schema.WithField(entity.NewField().WithName(milvusIDField).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(256))
		schema.WithField(entity.NewField().WithName(milvusEmbeddingField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(a.dims)))
		if err := c.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("milvus: create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(a.milvusMetric(), 16, 200)
		if err != nil {
			return fmt.Errorf("milvus: build index spec: %w", err)
		}
		if err := c.CreateIndex(ctx, a.collection, milvusEmbeddingField, idx, false); err != nil {
			return fmt.Errorf("milvus: create index: %w", err)
		}
	}
	return c.LoadCollection(ctx, a.collection, false)
}

func (a *milvusAdapter) milvusMetric() entity.MetricType {
	switch a.m {
	case metric.Cosine, metric.Dot:
		return entity.IP
	default:
		return entity.L2
	}
}

func (a *milvusAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return a.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (a *milvusAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	vectors := make([][]float32, len(vecs))
	for i, v := range vecs {
		if a.m == metric.Cosine {
			vectors[i] = metric.Normalize(v)
		} else {
			vectors[i] = v
		}
	}
	idCol := entity.NewColumnVarChar(milvusIDField, docIDs)
	vecCol := entity.NewColumnFloatVector(milvusEmbeddingField, a.dims, vectors)
	if _, err := a.client.Insert(ctx, a.collection, "", idCol, vecCol); err != nil {
		return fmt.Errorf("milvus: insert: %w", err)
	}
	return a.client.Flush(ctx, a.collection, false)
}

func (a *milvusAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	q := query
	if a.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, err
	}
	results, err := a.client.Search(ctx, a.collection, nil, "", []string{milvusIDField},
		[]entity.Vector{entity.FloatVector(q)}, milvusEmbeddingField, a.milvusMetric(), topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus: search: %w", err)
	}
	out := make([]ScoredID, 0, topK)
	for _, r := range results {
		for i := 0; i < r.ResultCount; i++ {
			col := r.Fields.GetColumn(milvusIDField)
			if col == nil {
				continue
			}
			v, err := col.Get(i)
			if err != nil {
				continue
			}
			docID, _ := v.(string)
			sim := faissDistanceToSimilarity(a.m, float64(r.Scores[i]))
			if sim < minScore {
				continue
			}
			out = append(out, ScoredID{DocID: docID, Similarity: sim})
		}
	}
	sortDescending(out)
	return out, nil
}

func (a *milvusAdapter) DeleteItem(ctx context.Context, docID string) error {
	expr := fmt.Sprintf("%s in [\"%s\"]", milvusIDField, docID)
	return a.client.Delete(ctx, a.collection, "", expr)
}

func (a *milvusAdapter) Save(ctx context.Context, path string) error { return nil }
func (a *milvusAdapter) Load(ctx context.Context, path string) error { return nil }

func (a *milvusAdapter) Optimize(ctx context.Context) error {
	return a.client.Flush(ctx, a.collection, false)
}

func (a *milvusAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if err := a.client.DropCollection(ctx, a.collection); err != nil {
		return fmt.Errorf("milvus: drop collection for rebuild: %w", err)
	}
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	return a.AddItemsBatch(ctx, vecs, docIDs)
}

func (a *milvusAdapter) Stats(ctx context.Context) (Stats, error) {
	n, err := a.client.GetCollectionStatistics(ctx, a.collection)
	if err != nil {
		return Stats{}, fmt.Errorf("milvus: stats: %w", err)
	}
	count := 0
	if rc, ok := n["row_count"]; ok {
		fmt.Sscanf(rc, "%d", &count)
	}
	return Stats{Backend: "milvus", Count: count, Dimensions: a.dims}, nil
}
