package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload field keys.
const (
	fieldRepo      = "repo"
	fieldPath      = "path"
	fieldStartLine = "start_line"
	fieldEndLine   = "end_line"
	fieldRevision  = "revision"
	fieldHash      = "hash"
	fieldText      = "text"
)

// QdrantStore implements Store using Qdrant over gRPC. A single shared
// collection holds all repositories; every query carries a repo filter.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrant creates a Qdrant-backed store.
func NewQdrant(host string, port int, collection string) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection (cosine distance, fixed
// dimension) if it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: s.collection,
	})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant delete ids: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeletePath(ctx context.Context, repo, path string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: repoPathFilter(repo, path),
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant delete path %s: %w", path, err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, repo string, vec []float32, k int) ([]Scored, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(k),
		Filter:         repoFilter(repo),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]Scored, len(resp.Result))
	for i, pt := range resp.Result {
		results[i] = Scored{
			ID:      pt.Id.GetUuid(),
			Score:   pt.Score,
			Payload: fromPayload(pt.Payload),
		}
	}
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context, repo string) (uint64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         repoFilter(repo),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

var _ Store = (*QdrantStore)(nil)

func repoFilter(repo string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{keywordCondition(fieldRepo, repo)}}
}

func repoPathFilter(repo, path string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{
		keywordCondition(fieldRepo, repo),
		keywordCondition(fieldPath, path),
	}}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toPayload(p Payload) map[string]*pb.Value {
	return map[string]*pb.Value{
		fieldRepo:      {Kind: &pb.Value_StringValue{StringValue: p.Repo}},
		fieldPath:      {Kind: &pb.Value_StringValue{StringValue: p.Path}},
		fieldStartLine: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.StartLine)}},
		fieldEndLine:   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.EndLine)}},
		fieldRevision:  {Kind: &pb.Value_StringValue{StringValue: p.Revision}},
		fieldHash:      {Kind: &pb.Value_StringValue{StringValue: p.Hash}},
		fieldText:      {Kind: &pb.Value_StringValue{StringValue: p.Text}},
	}
}

func fromPayload(m map[string]*pb.Value) Payload {
	return Payload{
		Repo:      m[fieldRepo].GetStringValue(),
		Path:      m[fieldPath].GetStringValue(),
		StartLine: int(m[fieldStartLine].GetIntegerValue()),
		EndLine:   int(m[fieldEndLine].GetIntegerValue()),
		Revision:  m[fieldRevision].GetStringValue(),
		Hash:      m[fieldHash].GetStringValue(),
		Text:      m[fieldText].GetStringValue(),
	}
}
