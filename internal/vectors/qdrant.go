// Package vectors provides similarity search over embedded records.
// QdrantStore talks to a Qdrant server; MemoryStore keeps everything in
// process for tests and offline runs.
package vectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

// Collection names
const (
	CollectionConversations = "conversations"
	CollectionHabits        = "habits"
	CollectionPeople        = "people"
	CollectionCommitments   = "commitments"
)

// Collections lists every collection the companion indexes.
var Collections = []string{
	CollectionConversations,
	CollectionHabits,
	CollectionPeople,
	CollectionCommitments,
}

// Index is a similarity index keyed by collection.
type Index interface {
	EnsureCollections(ctx context.Context, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter Filter) ([]SearchResult, error)
	Delete(ctx context.Context, collection string, ids []string) error
}

// Point represents a vector point
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchResult is a search hit. Score is cosine similarity.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Filter restricts a search to points whose payload fields equal the
// given values. Strings match as keywords, integers as integers.
type Filter map[string]interface{}

// UserFilter scopes a search to one user.
func UserFilter(userID core.UserID) Filter {
	return Filter{"user_id": int64(userID)}
}

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.MustParse("6f1c0a52-3f0e-4c8e-9a51-2d3b7c9e4a10")

// PointID derives a stable point id for a database row, so re-indexing
// a row overwrites its previous vector.
func PointID(collection string, refID int64) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", collection, refID))).String()
}

// Config for vector store
type Config struct {
	Host   string // Qdrant host, default "localhost"
	Port   int    // Qdrant gRPC port, default 6334
	UseTLS bool   // Use TLS
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host: "localhost",
		Port: 6334,
	}
}

// QdrantStore wraps the Qdrant client.
type QdrantStore struct {
	client *qdrant.Client
	log    *logging.Logger

	mu          sync.Mutex
	collections map[string]bool
}

// NewQdrant connects to Qdrant.
func NewQdrant(cfg Config) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	return &QdrantStore{
		client:      client,
		log:         logging.Component("vectors"),
		collections: make(map[string]bool),
	}, nil
}

// Close closes the Qdrant connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollections creates any missing collection with cosine distance.
func (s *QdrantStore) EnsureCollections(ctx context.Context, dimension uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range Collections {
		if s.collections[name] {
			continue
		}
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check collection %s: %w", name, err)
		}
		if !exists {
			err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     dimension,
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return fmt.Errorf("failed to create collection %s: %w", name, err)
			}
			s.log.WithFields(map[string]interface{}{
				"collection": name,
				"dimension":  dimension,
			}).Info("created collection")
		}
		s.collections[name] = true
	}
	return nil
}

// Upsert inserts or updates vectors
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search performs semantic search
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit uint64, filter Filter) ([]SearchResult, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: fromQdrantPayload(r.Payload),
		}
	}
	return searchResults, nil
}

// Delete removes points by ID
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Helper functions for payload conversion
func toQdrantPayload(payload map[string]interface{}) map[string]*qdrant.Value {
	result := make(map[string]*qdrant.Value)
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			result[k] = qdrant.NewValueString(val)
		case int:
			result[k] = qdrant.NewValueInt(int64(val))
		case int64:
			result[k] = qdrant.NewValueInt(val)
		case core.UserID:
			result[k] = qdrant.NewValueInt(int64(val))
		case float64:
			result[k] = qdrant.NewValueDouble(val)
		case float32:
			result[k] = qdrant.NewValueDouble(float64(val))
		case bool:
			result[k] = qdrant.NewValueBool(val)
		}
	}
	return result
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			result[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			result[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			result[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			result[k] = val.BoolValue
		}
	}
	return result
}

func buildFilter(filter Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatchKeyword(k, val))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(k, val))
		default:
			if n, ok := asInt64(v); ok {
				conditions = append(conditions, qdrant.NewMatchInt(k, n))
			}
		}
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// asInt64 normalizes the integer kinds a payload may carry.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case core.UserID:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// PayloadInt reads an integer payload field.
func PayloadInt(payload map[string]interface{}, key string) (int64, bool) {
	return asInt64(payload[key])
}

// PayloadString reads a string payload field.
func PayloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}
