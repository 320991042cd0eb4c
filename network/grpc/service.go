package nodegrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

const serviceName = "chainsync.v1.Node"

// NodeServer is the server-side interface for the Node service
type NodeServer interface {
	Handshake(context.Context, *HandshakeRequest) (*HandshakeResponse, error)
	PullBlocksToTip(*PullBlocksToTipRequest, grpc.ServerStream) error
}

// RegisterNodeServer registers srv on a gRPC server
func RegisterNodeServer(s *grpc.Server, srv NodeServer) {
	s.RegisterService(&serviceDesc, srv)
}

func handlerHandshake(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(HandshakeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(NodeServer).Handshake(ctx, req)
}

func handlerPullBlocksToTip(srv any, stream grpc.ServerStream) error {
	req := new(PullBlocksToTipRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NodeServer).PullBlocksToTip(req, stream)
}

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

var pullBlocksToTipDesc = grpc.StreamDesc{
	StreamName:    "PullBlocksToTip",
	Handler:       handlerPullBlocksToTip,
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handshake", Handler: handlerHandshake},
	},
	Streams:  []grpc.StreamDesc{pullBlocksToTipDesc},
	Metadata: "chainsync/v1/node.cram",
}
