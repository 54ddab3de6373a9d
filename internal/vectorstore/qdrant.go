package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"ragassist/internal/contextutil"
)

var _ VectorIndex = (*QdrantStore)(nil)

// QdrantStore implements VectorIndex on a Qdrant collection.
// Point ids are numeric and follow the same append-only sequence as FlatIndex:
// the next id is the collection's exact point count. Writers in other processes
// must be serialized by the caller; an allocation that collides with existing
// points fails with ErrIDConflict instead of overwriting them.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dim        int

	// mu serializes id allocation within this process.
	mu sync.Mutex
}

// NewQdrantStore creates a Qdrant-backed index.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port is derived from the HTTP port.
func NewQdrantStore(urlStr, collection string, dim int) (*QdrantStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("qdrant backend requires a positive vector dimension, got %d", dim)
	}

	host, port, err := parseQdrantURL(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: collection,
		dim:        dim,
	}, nil
}

// parseQdrantURL returns the gRPC host and port for an HTTP endpoint URL.
// gRPC listens on the HTTP port + 1 (6334 when no port is given).
func parseQdrantURL(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err != nil {
			return "", 0, fmt.Errorf("invalid Qdrant port %q: %w", parsedURL.Port(), err)
		}
		port = httpPort + 1
	}
	return host, port, nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection with cosine distance if needed,
// or validates that an existing one has the configured vector size.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", s.collection, "vector_size", s.dim)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}

	actualSize := collectionVectorSize(info)
	if actualSize == 0 {
		return fmt.Errorf("could not determine collection vector size")
	}
	if actualSize != s.dim {
		return fmt.Errorf("%w: collection %s has vector size %d, configured %d", ErrDimensionMismatch, s.collection, actualSize, s.dim)
	}

	logger.InfoContext(ctx, "collection validated", "collection", s.collection, "vector_size", s.dim)
	return nil
}

// collectionVectorSize extracts the single unnamed vector size from collection info.
func collectionVectorSize(info *qdrant.CollectionInfo) int {
	config := info.GetConfig()
	if config == nil || config.GetParams() == nil {
		return 0
	}
	vectorsConfig := config.GetParams().GetVectorsConfig()
	if vectorsConfig == nil || vectorsConfig.GetParams() == nil {
		return 0
	}
	return int(vectorsConfig.GetParams().GetSize())
}

// Add upserts vectors with ids starting at the current point count and waits for the write.
func (s *QdrantStore) Add(ctx context.Context, vectors [][]float32) ([]int64, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(vectors) == 0 {
		return []int64{}, nil
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, collection dimension is %d", ErrDimensionMismatch, i, len(v), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.count(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(vectors))
	pointIDs := make([]*qdrant.PointId, len(vectors))
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for i, v := range vectors {
		id := next + uint64(i)
		ids[i] = int64(id)
		pointIDs[i] = qdrant.NewIDNum(id)
		points = append(points, &qdrant.PointStruct{
			Id:      pointIDs[i],
			Vectors: qdrant.NewVectors(v...),
		})
	}

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check allocated ids: %w", err)
	}
	if taken := occupiedIDs(existing); len(taken) > 0 {
		logger.WarnContext(ctx, "allocated ids already taken", "collection", s.collection, "first_id", next, "taken", taken)
		return nil, fmt.Errorf("%w: ids %v in collection %s", ErrIDConflict, taken, s.collection)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", s.collection, "count", len(points), "error", err)
		return nil, fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", s.collection, "count", len(points), "first_id", next)
	return ids, nil
}

// Search queries the collection and returns matches sorted by score, ties by id.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return []Match{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has length %d, collection dimension is %d", ErrDimensionMismatch, len(query), s.dim)
	}

	limit := uint64(k)
	scoredPoints, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", s.collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	matches := make([]Match, 0, len(scoredPoints))
	for _, point := range scoredPoints {
		id := NoResult
		if point.GetId() != nil && point.GetId().GetUuid() == "" {
			id = int64(point.GetId().GetNum())
		}
		matches = append(matches, Match{ID: id, Score: point.GetScore()})
	}
	sortMatches(matches)

	logger.DebugContext(ctx, "search completed", "collection", s.collection, "k", k, "results", len(matches))
	return matches, nil
}

// Ready reports whether the collection exists and holds at least one point.
func (s *QdrantStore) Ready(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return false, nil
	}
	count, err := s.count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Info returns the configured dimension and the exact point count.
func (s *QdrantStore) Info(ctx context.Context) (Info, error) {
	count, err := s.count(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Backend:   BackendQdrant,
		Dimension: s.dim,
		Count:     int(count),
	}, nil
}

// occupiedIDs returns the numeric ids of points that already exist.
func occupiedIDs(points []*qdrant.RetrievedPoint) []int64 {
	var taken []int64
	for _, p := range points {
		if p.GetId() != nil && p.GetId().GetUuid() == "" {
			taken = append(taken, int64(p.GetId().GetNum()))
		}
	}
	return taken
}

func (s *QdrantStore) count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}
