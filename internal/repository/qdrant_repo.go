package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/motionmatch/internal/errs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// pointNamespace derives Qdrant point UUIDs for video IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("6f1c3a52-0d5e-4a8b-9d1e-3c1a7a5b9e20")

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool
	VectorDimension int
	Metric          Metric
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository is the similarity index backed by a Qdrant collection.
// Each video is one point; the point ID is the video ID (or a UUIDv5 of it).
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
	metric          Metric
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}
	metric := cfg.Metric
	if metric == "" {
		metric = MetricCosine
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
		metric:          metric,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Metric returns the collection's distance metric.
func (r *QdrantRepository) Metric() Metric {
	return r.metric
}

func (r *QdrantRepository) distance() pb.Distance {
	if r.metric == MetricEuclid {
		return pb.Distance_Euclid
	}
	return pb.Distance_Cosine
}

// EnsureCollection creates the collection if it doesn't exist and checks the
// vector size of an existing one.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: r.distance(),
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if params.GetSize() > 0 {
			return params.GetSize(), true
		}
	}
	return 0, false
}

// pointID maps a video ID onto a Qdrant UUID point ID.
func pointID(videoID string) *pb.PointId {
	uid, err := uuid.Parse(videoID)
	if err != nil {
		uid = uuid.NewSHA1(pointNamespace, []byte(videoID))
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// Upsert writes a vector and waits until it is durable in the collection.
func (r *QdrantRepository) Upsert(ctx context.Context, videoID string, vector []float32, payload Payload) error {
	if len(vector) != r.vectorDimension {
		return errs.Newf(errs.KindInternal, "vector has %d dimensions, collection expects %d", len(vector), r.vectorDimension)
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: []*pb.PointStruct{
			{
				Id: pointID(videoID),
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: vector},
					},
				},
				Payload: map[string]*pb.Value{
					"video_id":    stringValue(videoID),
					"fingerprint": stringValue(payload.Fingerprint),
					"source_path": stringValue(payload.SourcePath),
				},
			},
		},
	})
	return indexErr("failed to upsert point", err)
}

// Fetch returns the stored vector for a video, if any.
func (r *QdrantRepository) Fetch(ctx context.Context, videoID string) ([]float32, bool, error) {
	resp, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: r.collectionName,
		Ids:            []*pb.PointId{pointID(videoID)},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, false, indexErr("failed to fetch point", err)
	}
	points := resp.GetResult()
	if len(points) == 0 {
		return nil, false, nil
	}
	data := points[0].GetVectors().GetVector().GetData()
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Nearest runs a k-nearest-neighbour query.
func (r *QdrantRepository) Nearest(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{"video_id"}},
			},
		},
	})
	if err != nil {
		return nil, indexErr("failed to search", err)
	}

	out := make([]Neighbor, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		n := Neighbor{VideoID: scored.GetPayload()["video_id"].GetStringValue()}
		if n.VideoID == "" {
			n.VideoID = scored.GetId().GetUuid()
		}
		// Qdrant reports cosine as similarity and euclid as distance.
		if r.metric == MetricEuclid {
			n.Score, n.Distance = r.metric.FromDistance(scored.GetScore())
		} else {
			n.Score, n.Distance = r.metric.FromSimilarity(scored.GetScore())
		}
		out = append(out, n)
	}
	return out, nil
}

// Delete removes a video's point and waits for the deletion to apply.
func (r *QdrantRepository) Delete(ctx context.Context, videoID string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{pointID(videoID)},
				},
			},
		},
	})
	return indexErr("failed to delete point", err)
}

// Count returns the exact number of points in the collection.
func (r *QdrantRepository) Count(ctx context.Context) (int64, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, indexErr("failed to count points", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

// Ping checks that the collection is reachable.
func (r *QdrantRepository) Ping(ctx context.Context) error {
	_, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: r.collectionName})
	return indexErr("qdrant unreachable", err)
}
