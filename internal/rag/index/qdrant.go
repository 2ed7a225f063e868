package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("qdrant", newQdrant)
}

const qdrantOriginalIDField = "_doc_id"

// qdrantAdapter is grounded on intelligencedev-manifold's
// internal/persistence/databases/qdrant_vector.go: gRPC client via
// qdrant.NewClient, collection auto-creation via CollectionExists/
// CreateCollection, and UUIDv5-derived point ids (Qdrant only accepts
// UUIDs or unsigned ints as point ids, so the original doc id is kept
// in the payload and recovered on search). Save/Load are no-ops: the
// collection is the persistent store.
type qdrantAdapter struct {
	client     *qdrant.Client
	collection string
	dims       int
	m          metric.Metric
}

func newQdrant(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	host, _ := params["host"].(string)
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p, ok := paramInt(params, "port"); ok {
		port = p
	}
	collection, _ := params["collection"].(string)
	if collection == "" {
		collection = "modularmind"
	}
	apiKey, _ := params["api_key"].(string)

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	return &qdrantAdapter{client: client, collection: collection, dims: dims, m: m}, nil
}

func (a *qdrantAdapter) qdrantDistance() qdrant.Distance {
	switch a.m {
	case metric.Cosine:
		return qdrant.Distance_Cosine
	case metric.Dot:
		return qdrant.Distance_Dot
	case metric.Manhattan:
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Euclid
	}
}

func (a *qdrantAdapter) Initialize(ctx context.Context) error {
	exists, err := a.client.CollectionExists(ctx, a.collection)
	if err != nil {
		return fmt.Errorf("qdrant: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return a.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(a.dims),
			Distance: a.qdrantDistance(),
		}),
	})
}

func pointIDFor(docID string) (*qdrant.PointId, bool) {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID), false
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
	return qdrant.NewIDUUID(derived), true
}

func (a *qdrantAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return a.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (a *qdrantAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	points := make([]*qdrant.PointStruct, len(vecs))
	for i, vec := range vecs {
		v := vec
		if a.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		id, derived := pointIDFor(docIDs[i])
		payload := map[string]any{}
		if derived {
			payload[qdrantOriginalIDField] = docIDs[i]
		}
		points[i] = &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectorsDense(v),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	_, err := a.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: a.collection, Points: points})
	return err
}

func (a *qdrantAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	q := query
	if a.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	limit := uint64(topK)
	hits, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collection,
		Query:          qdrant.NewQueryDense(q),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}
	out := make([]ScoredID, 0, len(hits))
	for _, hit := range hits {
		sim := metric.DistanceToSimilarity(a.m, qdrantScoreToDistance(a.m, float64(hit.Score)))
		if sim < minScore {
			continue
		}
		docID := hit.Id.GetUuid()
		if hit.Payload != nil {
			if v, ok := hit.Payload[qdrantOriginalIDField]; ok {
				docID = v.GetStringValue()
			}
		}
		out = append(out, ScoredID{DocID: docID, Similarity: sim})
	}
	sortDescending(out)
	return out, nil
}

// qdrantScoreToDistance inverts Qdrant's similarity-oriented scores back
// to the distance space metric.DistanceToSimilarity expects, so the
// facade sees one consistent similarity convention regardless of backend.
func qdrantScoreToDistance(m metric.Metric, score float64) float64 {
	switch m {
	case metric.Cosine:
		return 1 - score
	case metric.Dot:
		return -score
	default:
		return score
	}
}

func (a *qdrantAdapter) DeleteItem(ctx context.Context, docID string) error {
	id, _ := pointIDFor(docID)
	_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: a.collection,
		Points:         qdrant.NewPointsSelector(id),
	})
	return err
}

func (a *qdrantAdapter) Save(ctx context.Context, path string) error { return nil }
func (a *qdrantAdapter) Load(ctx context.Context, path string) error { return nil }

func (a *qdrantAdapter) Optimize(ctx context.Context) error { return nil }

func (a *qdrantAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if err := a.client.DeleteCollection(ctx, a.collection); err != nil {
		return fmt.Errorf("qdrant: drop collection for rebuild: %w", err)
	}
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	return a.AddItemsBatch(ctx, vecs, docIDs)
}

func (a *qdrantAdapter) Stats(ctx context.Context) (Stats, error) {
	count, err := a.client.Count(ctx, &qdrant.CountPoints{CollectionName: a.collection})
	if err != nil {
		return Stats{}, fmt.Errorf("qdrant: count: %w", err)
	}
	return Stats{Backend: "qdrant", Count: int(count), Dimensions: a.dims}, nil
}
