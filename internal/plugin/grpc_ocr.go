package plugin

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	hcplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/felixgeelhaar/rewind/internal/ocr"
)

const (
	serviceName   = "rewind.ocr.v1.Engine"
	methodWarm    = "/" + serviceName + "/Warm"
	methodExtract = "/" + serviceName + "/Extract"
)

// The service uses protobuf well-known types only: Extract takes PNG bytes
// and returns a list of fragment structs.
type engineServer interface {
	Warm(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Extract(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*engineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Warm", Handler: warmHandler},
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rewind/ocr/v1/engine.proto",
}

func registerEngineServer(s grpc.ServiceRegistrar, srv engineServer) {
	s.RegisterService(&engineServiceDesc, srv)
}

func warmHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineServer).Warm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodWarm}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineServer).Warm(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func extractHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExtract}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// OCRGRPCPlugin is the implementation of hcplugin.GRPCPlugin so we can serve/consume this.
type OCRGRPCPlugin struct {
	hcplugin.NetRPCUnsupportedPlugin
	Impl ocr.Engine
}

func (p *OCRGRPCPlugin) GRPCServer(broker *hcplugin.GRPCBroker, s *grpc.Server) error {
	registerEngineServer(s, &OCRGRPCServer{Impl: p.Impl})
	return nil
}

func (p *OCRGRPCPlugin) GRPCClient(ctx context.Context, broker *hcplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return &OCRGRPCClient{conn: c}, nil
}

// OCRGRPCClient talks to a remote engine.
type OCRGRPCClient struct {
	conn grpc.ClientConnInterface
}

func (m *OCRGRPCClient) Warm(ctx context.Context) error {
	return m.conn.Invoke(ctx, methodWarm, &emptypb.Empty{}, new(emptypb.Empty))
}

func (m *OCRGRPCClient) Extract(ctx context.Context, img image.Image) ([]ocr.Fragment, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	out := new(structpb.ListValue)
	if err := m.conn.Invoke(ctx, methodExtract, wrapperspb.Bytes(buf.Bytes()), out); err != nil {
		return nil, err
	}
	return fragmentsFromList(out), nil
}

func (m *OCRGRPCClient) Close() error { return nil }

// OCRGRPCServer is the gRPC server that calls the local implementation.
type OCRGRPCServer struct {
	Impl ocr.Engine
}

func (m *OCRGRPCServer) Warm(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := m.Impl.Warm(ctx); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (m *OCRGRPCServer) Extract(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	img, err := png.Decode(bytes.NewReader(req.GetValue()))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	frags, err := m.Impl.Extract(ctx, img)
	if err != nil {
		return nil, err
	}
	return fragmentsToList(frags)
}

func fragmentsToList(frags []ocr.Fragment) (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(frags))}
	for _, f := range frags {
		s, err := structpb.NewStruct(map[string]any{
			"text":       f.Text,
			"x":          f.Region.X,
			"y":          f.Region.Y,
			"w":          f.Region.W,
			"h":          f.Region.H,
			"confidence": f.Confidence,
		})
		if err != nil {
			return nil, err
		}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list, nil
}

func fragmentsFromList(list *structpb.ListValue) []ocr.Fragment {
	frags := make([]ocr.Fragment, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		frags = append(frags, ocr.Fragment{
			Text: fields["text"].GetStringValue(),
			Region: ocr.Region{
				X: int(fields["x"].GetNumberValue()),
				Y: int(fields["y"].GetNumberValue()),
				W: int(fields["w"].GetNumberValue()),
				H: int(fields["h"].GetNumberValue()),
			},
			Confidence: fields["confidence"].GetNumberValue(),
		})
	}
	return frags
}
