package index

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("pinecone", newPinecone)
}

const pineconeDocIDKey = "doc_id"

// pineconeAdapter is grounded on Tangerg-lynx/vectorstores'
// dependency on pinecone-io/go-pinecone/v4 (the only pack repo that
// lists the client directly), generalized to this module's Adapter
// contract: index auto-creation at Initialize (serverless spec,
// matching the client's documented CreateServerlessIndex call),
// upsert/query against an index connection. Pinecone ids are strings
// chosen by the caller, so the doc id is used as the vector id and
// Search reads it back from the match id; a doc_id metadata field is
// also written on upsert.
type pineconeAdapter struct {
	client    *pinecone.Client
	conn      *pinecone.IndexConnection
	indexName string
	dims      int
	m         metric.Metric
	cloud     string
	region    string
}

func newPinecone(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	apiKey, _ := params["api_key"].(string)
	indexName, _ := params["index"].(string)
	if indexName == "" {
		indexName = "modularmind"
	}
	cloud, _ := params["cloud"].(string)
	if cloud == "" {
		cloud = "aws"
	}
	region, _ := params["region"].(string)
	if region == "" {
		region = "us-east-1"
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone: new client: %w", err)
	}
	return &pineconeAdapter{client: client, indexName: indexName, dims: dims, m: m, cloud: cloud, region: region}, nil
}

func (a *pineconeAdapter) pineconeMetric() pinecone.IndexMetric {
	switch a.m {
	case metric.Dot:
		return pinecone.Dotproduct
	case metric.L2:
		return pinecone.Euclidean
	default:
		return pinecone.Cosine
	}
}

func (a *pineconeAdapter) Initialize(ctx context.Context) error {
	indexes, err := a.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("pinecone: list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == a.indexName {
			return a.connect(ctx)
		}
	}
	dims := int32(a.dims)
	met := a.pineconeMetric()
	_, err = a.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      a.indexName,
		Dimension: &dims,
		Metric:    &met,
		Cloud:     pinecone.Cloud(a.cloud),
		Region:    a.region,
	})
	if err != nil {
		return fmt.Errorf("pinecone: create index: %w", err)
	}
	return a.connect(ctx)
}

func (a *pineconeAdapter) connect(ctx context.Context) error {
	idx, err := a.client.DescribeIndex(ctx, a.indexName)
	if err != nil {
		return fmt.Errorf("pinecone: describe index: %w", err)
	}
	conn, err := a.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return fmt.Errorf("pinecone: connect index: %w", err)
	}
	a.conn = conn
	return nil
}

func (a *pineconeAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return a.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (a *pineconeAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	vectors := make([]*pinecone.Vector, len(vecs))
	for i, vec := range vecs {
		v := vec
		if a.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		meta, _ := structpb.NewStruct(map[string]interface{}{pineconeDocIDKey: docIDs[i]})
		vectors[i] = &pinecone.Vector{Id: docIDs[i], Values: &v, Metadata: meta}
	}
	_, err := a.conn.UpsertVectors(ctx, vectors)
	return err
}

func (a *pineconeAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	q := query
	if a.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	res, err := a.conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          q,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: query: %w", err)
	}
	out := make([]ScoredID, 0, len(res.Matches))
	for _, match := range res.Matches {
		sim := metric.DistanceToSimilarity(a.m, pineconeScoreToDistance(a.m, float64(match.Vector.Score)))
		if sim < minScore {
			continue
		}
		docID := match.Vector.Id
		out = append(out, ScoredID{DocID: docID, Similarity: sim})
	}
	sortDescending(out)
	return out, nil
}

func pineconeScoreToDistance(m metric.Metric, score float64) float64 {
	switch m {
	case metric.Cosine:
		return 1 - score
	case metric.Dot:
		return -score
	default:
		return score
	}
}

func (a *pineconeAdapter) DeleteItem(ctx context.Context, docID string) error {
	return a.conn.DeleteVectorsById(ctx, []string{docID})
}

func (a *pineconeAdapter) Save(ctx context.Context, path string) error { return nil }
func (a *pineconeAdapter) Load(ctx context.Context, path string) error { return nil }
func (a *pineconeAdapter) Optimize(ctx context.Context) error         { return nil }

func (a *pineconeAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if err := a.client.DeleteIndex(ctx, a.indexName); err != nil {
		return fmt.Errorf("pinecone: delete index for rebuild: %w", err)
	}
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	return a.AddItemsBatch(ctx, vecs, docIDs)
}

func (a *pineconeAdapter) Stats(ctx context.Context) (Stats, error) {
	stats, err := a.conn.DescribeIndexStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("pinecone: describe stats: %w", err)
	}
	return Stats{Backend: "pinecone", Count: int(stats.TotalVectorCount), Dimensions: a.dims}, nil
}
