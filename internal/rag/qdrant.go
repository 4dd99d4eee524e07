package rag

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written on every point.
const (
	payloadDocumentID = "document_id"
	payloadChunkID    = "chunk_id"
	payloadChunkIndex = "chunk_index"
	payloadTotal      = "total_chunks"
	payloadText       = "text"
	payloadSeq        = "seq"

	// queryOverfetch is the minimum number of extra points fetched so ties
	// at the k-th place can be reordered by seq.
	queryOverfetch = 8
)

// pointNamespace scopes the name-based UUIDs derived from chunk IDs.
var pointNamespace = uuid.MustParse("5b0c3f7e-52a4-4a86-9d0e-7d3c3c1f6a21")

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: rfpai-chunks).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex on a Qdrant collection with cosine
// distance. Point IDs are UUIDv5 values derived from chunk IDs, so repeated
// upserts of the same chunk overwrite one point.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant and ensures the collection and its
// document_id payload index exist.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "rfpai-chunks"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Client exposes the gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// ensureCollection creates the collection and the payload index used by the
// document filter if they do not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cfg.Collection,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s: %w", payloadDocumentID, err)
	}
	return nil
}

// pointID maps a chunk ID to its Qdrant point UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Upsert writes chunks as points. Existing points keep their original seq so
// tie ordering stays stable across re-indexing.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := checkParallel(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	existing, err := q.existingSeqs(ctx, chunks)
	if err != nil {
		return err
	}

	base := time.Now().UnixNano()
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		seq, ok := existing[pointID(c.ID)]
		if !ok {
			seq = base + int64(i)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: c.DocumentID,
				payloadChunkID:    c.ID,
				payloadChunkIndex: int64(c.Index),
				payloadTotal:      int64(c.Total),
				payloadText:       c.Text,
				payloadSeq:        seq,
			}),
		})
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// existingSeqs returns the stored seq of any chunk already present.
func (q *QdrantIndex) existingSeqs(ctx context.Context, chunks []Chunk) (map[string]int64, error) {
	ids := make([]*qdrant.PointId, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, qdrant.NewIDUUID(pointID(c.ID)))
	}
	found, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.Collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadSeq),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: lookup existing points: %w", err)
	}
	out := make(map[string]int64, len(found))
	for _, p := range found {
		if v, ok := p.GetPayload()[payloadSeq]; ok {
			out[p.GetId().GetUuid()] = v.GetIntegerValue()
		}
	}
	return out, nil
}

// Query runs a filtered cosine search. Qdrant reports cosine similarity, which
// is converted to distance as 1 - score.
//
// Qdrant cuts its result list before the seq tie-break can run, so Query asks
// for k plus max(k, queryOverfetch) points and trims after sorting. A run of
// equal distances longer than that window at the k-th place can still come
// back out of insertion order.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int, documentIDs []int64) ([]Match, error) {
	if k <= 0 || len(documentIDs) == 0 {
		return nil, nil
	}

	limit := uint64(k + max(k, queryOverfetch)) //nolint:gosec // k > 0
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInts(payloadDocumentID, documentIDs...)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]seqMatch, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		d := 1 - float64(r.GetScore())
		if d < 0 {
			d = 0
		}
		if d > 2 {
			d = 2
		}
		hits = append(hits, seqMatch{
			match: Match{
				Chunk: Chunk{
					ID:         p[payloadChunkID].GetStringValue(),
					DocumentID: p[payloadDocumentID].GetIntegerValue(),
					Index:      int(p[payloadChunkIndex].GetIntegerValue()),
					Total:      int(p[payloadTotal].GetIntegerValue()),
					Text:       p[payloadText].GetStringValue(),
				},
				Distance: d,
			},
			seq: p[payloadSeq].GetIntegerValue(),
		})
	}
	return rankBySeq(hits, k), nil
}

// seqMatch is a search hit with the insertion seq stored in its payload.
type seqMatch struct {
	match Match
	seq   int64
}

// rankBySeq orders hits by distance, then seq, and keeps the first k.
func rankBySeq(hits []seqMatch, k int) []Match {
	slices.SortStableFunc(hits, func(a, b seqMatch) int {
		switch {
		case a.match.Distance < b.match.Distance:
			return -1
		case a.match.Distance > b.match.Distance:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out
}

// TrimDocument removes the points of documentID whose chunk_index is keep or
// higher.
func (q *QdrantIndex) TrimDocument(ctx context.Context, documentID int64, keep int) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt(payloadDocumentID, documentID),
				qdrant.NewRange(payloadChunkIndex, &qdrant.Range{Gte: qdrant.PtrOf(float64(keep))}),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: trim document %d failed: %w", documentID, err)
	}
	return nil
}

// CountDocument returns the exact number of points stored for documentID.
func (q *QdrantIndex) CountDocument(ctx context.Context, documentID int64) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadDocumentID, documentID)},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count document %d failed: %w", documentID, err)
	}
	return int(n), nil //nolint:gosec // bounded by chunk count
}

// DeleteDocument removes every point whose document_id matches.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt(payloadDocumentID, documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete document %d failed: %w", documentID, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("qdrant: close: %w", err)
	}
	return nil
}
