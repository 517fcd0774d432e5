package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/qrefine/internal/optimizer"
)

// #region server
// GeneratorServer is the server side of the generator service.
type GeneratorServer interface {
	Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type generatorServer struct {
	gen optimizer.Generator
}

// RegisterGenerator serves gen on s under GenerateMethod.
func RegisterGenerator(s grpc.ServiceRegistrar, gen optimizer.Generator) {
	s.RegisterService(&generatorServiceDesc, &generatorServer{gen: gen})
}

func (g *generatorServer) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := g.gen.Generate(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if out == nil {
		return nil, status.Error(codes.Internal, optimizer.ErrEmptyOutput.Error())
	}
	v, err := toGeneric(out.Value())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s, err := structpb.NewStruct(map[string]any{"output": v})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}
// #endregion server

// #region service-desc
func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeneratorServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GenerateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeneratorServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "qrefine.v1.Generator",
	HandlerType: (*GeneratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qrefine/v1/generator.proto",
}
// #endregion service-desc
