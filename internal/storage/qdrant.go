package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/index"
	"github.com/bull/drugbot/internal/retry"
)

// QdrantConfig locates the Qdrant server and collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Retry      retry.Policy
}

// QdrantStorage persists index snapshots in a Qdrant collection: one metadata
// point (embedding model, dimension) and one point per chunk.
type QdrantStorage struct {
	client     *qdrant.Client
	collection string
	policy     retry.Policy
}

var _ index.Store = (*QdrantStorage)(nil)

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(ctx context.Context, cfg QdrantConfig) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if cfg.Collection == "" {
		cfg.Collection = DefaultCollectionName
	}
	s := &QdrantStorage{
		client:     client,
		collection: cfg.Collection,
		policy:     cfg.Retry,
	}

	if _, err := retry.Do(ctx, s.policy, always, s.Health); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return s, nil
}

// Every Qdrant error is treated as a retryable network issue.
func always(error) bool { return true }

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Save replaces the collection content with the snapshot.
// The collection is recreated so that its vector size follows the snapshot.
func (s *QdrantStorage) Save(ctx context.Context, snap *index.Snapshot) error {
	for i, e := range snap.Entries {
		if len(e.Vector) != snap.Dimension {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), snap.Dimension)
		}
	}

	if err := s.recreateCollection(ctx, snap.Dimension); err != nil {
		return err
	}

	meta := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(metadataPointID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(map[string]any{
			fieldType:      pointTypeIndex,
			fieldModel:     snap.Model,
			fieldDimension: snap.Dimension,
			fieldCount:     len(snap.Entries),
		}),
	}
	if err := s.upsertWithRetry(ctx, []*qdrant.PointStruct{meta}); err != nil {
		return fmt.Errorf("failed to store index metadata: %w", err)
	}

	// Batch upserts in groups of 100
	const batchSize = 100
	for i := 0; i < len(snap.Entries); i += batchSize {
		end := min(i+batchSize, len(snap.Entries))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, e := range snap.Entries[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(e.Chunk.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(e.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					fieldType:       pointTypeChunk,
					fieldSeq:        e.Seq,
					fieldRecordID:   e.Chunk.RecordID,
					fieldDrugName:   e.Chunk.DrugName,
					fieldSection:    e.Chunk.Section,
					fieldOrdinal:    e.Chunk.Ordinal,
					fieldText:       e.Chunk.Text,
					fieldProvenance: e.Chunk.Provenance,
				}),
			})
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// recreateCollection drops the collection if present and creates it with
// cosine distance and keyword indexes on the filterable fields.
func (s *QdrantStorage) recreateCollection(ctx context.Context, dimension int) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{fieldType, fieldRecordID, fieldDrugName} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStorage) collectionExists(ctx context.Context) (bool, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return true, nil
		}
	}
	return false, nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	_, err := retry.Do(ctx, s.policy, always, func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	return err
}

// Load reads the snapshot back, entries ordered by insertion sequence.
// Returns index.ErrNoSnapshot when the collection or its metadata point is missing.
func (s *QdrantStorage) Load(ctx context.Context) (*index.Snapshot, error) {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, index.ErrNoSnapshot
	}

	metas, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(metadataPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get index metadata: %w", err)
	}
	if len(metas) == 0 {
		return nil, index.ErrNoSnapshot
	}
	meta := metas[0].Payload
	snap := &index.Snapshot{
		Model:     meta[fieldModel].GetStringValue(),
		Dimension: int(meta[fieldDimension].GetIntegerValue()),
	}

	// Scroll offsets are inclusive, so every page after the first repeats
	// the last point of the previous one.
	const pageSize = 256
	seen := make(map[string]bool)
	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch(fieldType, pointTypeChunk)},
			},
			Limit:       qdrant.PtrOf(uint32(pageSize)),
			Offset:      offset,
			WithPayload: qdrant.NewWithPayload(true),
			WithVectors: qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll chunks: %w", err)
		}

		added := 0
		for _, p := range points {
			id := p.GetId().GetUuid()
			if seen[id] {
				continue
			}
			seen[id] = true
			added++

			payload := p.Payload
			vec := p.GetVectors().GetVectors().GetVectors()[vectorName].GetData()
			snap.Entries = append(snap.Entries, index.Entry{
				Chunk: drug.Chunk{
					ID:         id,
					RecordID:   payload[fieldRecordID].GetStringValue(),
					DrugName:   payload[fieldDrugName].GetStringValue(),
					Section:    payload[fieldSection].GetStringValue(),
					Ordinal:    int(payload[fieldOrdinal].GetIntegerValue()),
					Text:       payload[fieldText].GetStringValue(),
					Provenance: payload[fieldProvenance].GetStringValue(),
				},
				Vector: vec,
				Seq:    int(payload[fieldSeq].GetIntegerValue()),
			})
		}

		if len(points) < pageSize || added == 0 {
			break
		}
		offset = points[len(points)-1].Id
	}

	if expected := int(meta[fieldCount].GetIntegerValue()); expected != len(snap.Entries) {
		return nil, fmt.Errorf("%w: metadata lists %d chunks, collection has %d",
			drug.ErrIndexInconsistent, expected, len(snap.Entries))
	}

	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Seq < snap.Entries[j].Seq })
	return snap, nil
}
