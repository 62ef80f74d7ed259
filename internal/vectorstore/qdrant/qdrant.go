package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"studybuddy/internal/domain"
	"studybuddy/internal/vectorstore"
)

const (
	payloadID       = "passage_id"
	payloadText     = "text"
	payloadDocument = "document_id"
	payloadMetadata = "metadata"
)

// Storage is a Qdrant backend speaking gRPC.
// Qdrant only accepts UUID or integer point ids, so passage ids are mapped to
// name-based UUIDs and kept verbatim in the payload.
type Storage struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

type Config struct {
	Host   string
	Port   int
	APIKey string
	// Timeout bounds each RPC; zero leaves deadlines to the caller.
	Timeout time.Duration
}

// NewStorage dials Qdrant. The connection is established lazily on first use.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	var interceptors []grpc.UnaryClientInterceptor
	if cfg.APIKey != "" {
		interceptors = append(interceptors, apiKeyInterceptor(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		interceptors = append(interceptors, timeoutInterceptor(cfg.Timeout))
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(interceptors...),
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Storage{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func timeoutInterceptor(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *Storage) CreateCollection(ctx context.Context, name string, dimension int) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dimension), Distance: pb.Distance_Cosine},
		}},
	})
	return err
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	return mapErr(err)
}

func (s *Storage) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, err
	}
	return resp.GetResult().GetExists(), nil
}

func (s *Storage) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(collection, r.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: map[string]*pb.Value{
				payloadID:       stringValue(r.ID),
				payloadText:     stringValue(r.Text),
				payloadDocument: stringValue(r.Metadata.DocumentID),
				payloadMetadata: stringValue(string(meta)),
			},
		}
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	return mapErr(err)
}

func (s *Storage) Search(ctx context.Context, collection string, vector []float32, n int, filter domain.Filter) ([]domain.Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Filter:         toFilter(filter),
		Limit:          uint64(n),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	matches := make([]domain.Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		m := domain.Match{
			ID:   pt.GetPayload()[payloadID].GetStringValue(),
			Text: pt.GetPayload()[payloadText].GetStringValue(),
			// Qdrant reports cosine similarity as the score.
			Distance: 1 - float64(pt.GetScore()),
		}
		if raw := pt.GetPayload()[payloadMetadata].GetStringValue(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", m.ID, err)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Storage) Delete(ctx context.Context, collection string, filter domain.Filter) error {
	f := toFilter(filter)
	if f == nil {
		f = &pb.Filter{}
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: f}},
	})
	return mapErr(err)
}

func (s *Storage) Count(ctx context.Context, collection string) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, mapErr(err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Storage) Close() error {
	return s.conn.Close()
}

func toFilter(f domain.Filter) *pb.Filter {
	if f.IsZero() {
		return nil
	}
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   payloadDocument,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: f.DocumentID}},
		}},
	}}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// pointID derives a stable UUID so re-ingesting a document overwrites its points.
func pointID(collection, passageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+passageID)).String()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, status.Convert(err).Message())
	}
	return err
}

var _ vectorstore.Backend = (*Storage)(nil)
