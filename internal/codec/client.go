package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/optimizer"
)

// GenerateMethod is the full gRPC method name of the generator service.
const GenerateMethod = "/qrefine.v1.Generator/Generate"

// ErrNoOutput means the remote generator answered without an output field.
var ErrNoOutput = errors.New("response has no output")

// #region client-struct
// Client calls a remote generator over gRPC. Requests and responses are
// google.protobuf.Struct messages:
//
//	request:  {objective, context, previous, feedback}
//	response: {output}
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

var _ optimizer.Generator = (*Client)(nil)
// #endregion client-struct

// #region constructor
// NewClient connects to a generator service.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close is then a no-op.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}
// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// #region generate
// Generate sends the objective, run context, previous artifact and feedback
// to the remote generator.
func (c *Client) Generate(ctx context.Context, req optimizer.GenerateRequest) (artifact.Artifact, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return nil, fmt.Errorf("generate rpc: %w", err)
	}
	v, ok := out.GetFields()["output"]
	if !ok {
		return nil, fmt.Errorf("generate rpc: %w", ErrNoOutput)
	}
	a, err := artifact.FromValue(v.AsInterface())
	if err != nil {
		return nil, fmt.Errorf("generate rpc: %w", err)
	}
	return a, nil
}
// #endregion generate

// #region encoding
// EncodeRequest converts a generate request into its wire form. Absent
// previous and feedback are sent as null.
func EncodeRequest(req optimizer.GenerateRequest) (*structpb.Struct, error) {
	fields := map[string]any{
		"objective": req.Objective,
		"context":   req.Context,
		"previous":  nil,
		"feedback":  nil,
	}
	if req.Previous != nil {
		fields["previous"] = req.Previous.Value()
	}
	if req.Feedback != nil {
		fields["feedback"] = req.Feedback
	}

	generic, err := toGeneric(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s, err := structpb.NewStruct(generic.(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

// DecodeRequest is the inverse of EncodeRequest. The context comes back in
// its generic JSON form.
func DecodeRequest(s *structpb.Struct) (optimizer.GenerateRequest, error) {
	var req optimizer.GenerateRequest
	m := s.AsMap()

	if err := fromGeneric(m["objective"], &req.Objective); err != nil {
		return req, fmt.Errorf("decode objective: %w", err)
	}
	req.Context = m["context"]
	if prev := m["previous"]; prev != nil {
		a, err := artifact.FromValue(prev)
		if err != nil {
			return req, fmt.Errorf("decode previous: %w", err)
		}
		req.Previous = a
	}
	if fb := m["feedback"]; fb != nil {
		if err := fromGeneric(fb, &req.Feedback); err != nil {
			return req, fmt.Errorf("decode feedback: %w", err)
		}
	}
	return req, nil
}

// toGeneric routes v through JSON so structpb only sees maps, slices and
// scalars.
func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromGeneric(v any, dst any) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
// #endregion encoding
