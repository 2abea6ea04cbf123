package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/logging"
)

const (
	// ServiceName is the gRPC service the remote classifier registers.
	ServiceName = "classifier.v1.Classifier"
	// ClassifyMethod takes a google.protobuf.BytesValue holding the encoded
	// image and returns a google.protobuf.ListValue of {label, probability}.
	ClassifyMethod = "/" + ServiceName + "/Classify"
)

// DialClassifier connects to the remote classifier. The returned loader
// reports the model as loaded once the service health check passes.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Loader, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewLoader(conn, logger), conn, nil
}

// Loader produces models backed by a gRPC connection.
type Loader struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
	logger *zap.Logger
	topK   int
}

// NewLoader wraps an existing connection.
func NewLoader(conn grpc.ClientConnInterface, logger *zap.Logger) *Loader {
	return &Loader{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.Named("grpc_classifier"),
	}
}

// WithTopK limits the number of predictions returned by the loaded model.
func (l *Loader) WithTopK(k int) *Loader {
	l.topK = k
	return l
}

// Load implements classifier.Loader.
func (l *Loader) Load(ctx context.Context) (classifier.Model, error) {
	resp, err := l.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.health_check", "", err)
		l.logger.Error("classifier health check failed", zap.Error(wrapped))
		return nil, wrapped
	}
	if status := resp.GetStatus(); status != healthpb.HealthCheckResponse_SERVING {
		err := logging.NewOperationError("grpcclient.health_check", "", fmt.Errorf("classifier not serving: %s", status))
		l.logger.Warn("classifier unavailable", zap.Error(err))
		return nil, err
	}
	return &grpcModel{conn: l.conn, logger: l.logger, topK: l.topK}, nil
}

type grpcModel struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
	topK   int
}

func (m *grpcModel) Classify(ctx context.Context, img classifier.Image) ([]classifier.Prediction, error) {
	reply := &structpb.ListValue{}
	if err := m.conn.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(img.Data), reply); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", err)
		m.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	predictions, err := DecodePredictions(reply)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_predictions", "", err)
	}
	if m.topK > 0 && len(predictions) > m.topK {
		predictions = predictions[:m.topK]
	}
	return predictions, nil
}

// DecodePredictions converts the wire list into predictions, keeping the
// order the service ranked them in.
func DecodePredictions(list *structpb.ListValue) ([]classifier.Prediction, error) {
	predictions := make([]classifier.Prediction, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		fields := value.GetStructValue().GetFields()
		label, ok := fields["label"]
		if !ok {
			return nil, fmt.Errorf("prediction %d: missing label", i)
		}
		probability, ok := fields["probability"]
		if !ok {
			return nil, fmt.Errorf("prediction %d: missing probability", i)
		}
		predictions = append(predictions, classifier.Prediction{
			Label:       label.GetStringValue(),
			Probability: probability.GetNumberValue(),
		})
	}
	return predictions, nil
}

// EncodePredictions is the inverse of DecodePredictions.
func EncodePredictions(predictions []classifier.Prediction) (*structpb.ListValue, error) {
	values := make([]interface{}, 0, len(predictions))
	for _, p := range predictions {
		values = append(values, map[string]interface{}{
			"label":       p.Label,
			"probability": p.Probability,
		})
	}
	return structpb.NewList(values)
}
