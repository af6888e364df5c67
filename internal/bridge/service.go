package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// ServiceName is the fully qualified gRPC service trainers report to.
const ServiceName = "hpsearch.bridge.v1.ReportService"

const (
	methodReportEpoch = "/" + ServiceName + "/ReportEpoch"
	methodReportFinal = "/" + ServiceName + "/ReportFinal"
)

// ReportServiceServer is the server side of the report service. Requests and
// replies are google.protobuf.Struct values so trainers in any language can
// call it without generated stubs.
type ReportServiceServer interface {
	ReportEpoch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReportFinal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ReportServiceDesc describes the report service for grpc.Server.RegisterService.
var ReportServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportEpoch", Handler: reportEpochHandler},
		{MethodName: "ReportFinal", Handler: reportFinalHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hpsearch/bridge/v1/report.proto",
}

func reportEpochHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).ReportEpoch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReportEpoch}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).ReportEpoch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reportFinalHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).ReportFinal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReportFinal}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).ReportFinal(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region service-client
// ReportServiceClient is the client side of the report service.
type ReportServiceClient interface {
	ReportEpoch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ReportFinal(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient binds a ReportServiceClient to a connection.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc: cc}
}

func (c *reportServiceClient) ReportEpoch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodReportEpoch, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *reportServiceClient) ReportFinal(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodReportFinal, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service-client
