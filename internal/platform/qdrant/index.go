// Package qdrant wraps the vector index the retrieval flow searches.
// Point ids are deterministic UUIDs derived from the logical passage
// key, so re-upserting the same passage overwrites its point instead of
// duplicating it.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
)

// Point is one vector plus the payload stored alongside it.
type Point struct {
	Key     string
	Vector  []float32
	Payload map[string]string
}

// Hit is one search result.
type Hit struct {
	Text  string
	Score float32
}

// Index is a Qdrant-backed vector index over a single collection.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	dimension   uint64
}

// New connects to Qdrant over gRPC.
func New(cfg config.QdrantConfig) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}

	return &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		dimension:   cfg.Dimension,
	}, nil
}

// Ensure creates the collection if it does not exist yet. The vector
// dimension and distance are fixed at creation; an existing collection
// is trusted as-is.
func (i *Index) Ensure(ctx context.Context) error {
	log := logger.FromContext(ctx)

	_, err := i.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: i.collection,
	})
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.NotFound {
		return fmt.Errorf("failed to check collection %q: %w", i.collection, err)
	}

	log.Info("creating vector collection",
		"collection", i.collection,
		"dimension", i.dimension)
	_, err = i.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     i.dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", i.collection, err)
	}
	return nil
}

// pointID derives a stable UUID from the logical key. Qdrant only
// accepts UUID or integer ids, so arbitrary string keys are hashed into
// the UUID space.
func pointID(key string) *pb.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

// Upsert writes the given points into the collection.
func (i *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		structs = append(structs, &pb.PointStruct{
			Id:      pointID(p.Key),
			Payload: payload,
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
		})
	}

	_, err := i.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: i.collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(structs), err)
	}
	return nil
}

// Search returns the limit nearest points to the query vector, with the
// stored "text" payload field and the similarity score.
func (i *Index) Search(ctx context.Context, vector []float32, limit uint64) ([]Hit, error) {
	resp, err := i.points.Search(ctx, &pb.SearchPoints{
		CollectionName: i.collection,
		Vector:         vector,
		Limit:          limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %q: %w", i.collection, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		hit := Hit{Score: r.GetScore()}
		if v, ok := r.GetPayload()["text"]; ok {
			hit.Text = v.GetStringValue()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close tears down the gRPC connection.
func (i *Index) Close() error {
	return i.conn.Close()
}
