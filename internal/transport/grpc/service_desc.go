package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "slotbook.v1.BookingSessions"

// BookingSessionsServer is the handler set behind ServiceDesc. Every message
// is a google.protobuf.Struct whose fields follow the JSON names used below.
type BookingSessionsServer interface {
	StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SelectSlot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetDuration(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetRecurringCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetInstantMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetResponses(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	VerifyEmail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ResolveInstantBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookingSessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartSession", BookingSessionsServer.StartSession),
		unaryMethod("GetSession", BookingSessionsServer.GetSession),
		unaryMethod("SelectSlot", BookingSessionsServer.SelectSlot),
		unaryMethod("SetDuration", BookingSessionsServer.SetDuration),
		unaryMethod("SetRecurringCount", BookingSessionsServer.SetRecurringCount),
		unaryMethod("SetInstantMode", BookingSessionsServer.SetInstantMode),
		unaryMethod("SetResponses", BookingSessionsServer.SetResponses),
		unaryMethod("Submit", BookingSessionsServer.Submit),
		unaryMethod("VerifyEmail", BookingSessionsServer.VerifyEmail),
		unaryMethod("GetAvailability", BookingSessionsServer.GetAvailability),
		unaryMethod("ResolveInstantBooking", BookingSessionsServer.ResolveInstantBooking),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slotbook/v1/sessions.proto",
}

func RegisterBookingSessionsServer(s grpc.ServiceRegistrar, srv BookingSessionsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryRPC func(srv BookingSessionsServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryRPC) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingSessionsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingSessionsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// BookingSessionsClient calls the service over a client connection.
type BookingSessionsClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingSessionsClient(cc grpc.ClientConnInterface) *BookingSessionsClient {
	return &BookingSessionsClient{cc: cc}
}

// Call invokes method with in and returns the decoded response message.
func (c *BookingSessionsClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
