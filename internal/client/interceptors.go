package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UserIDMetadataKey carries the acting user on gRPC calls.
const UserIDMetadataKey = "x-user-id"

// WithUserID returns a context whose outgoing calls act as userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, UserIDMetadataKey, userID)
}

// UserIDFromIncoming returns the acting user of an incoming call, or "".
func UserIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(UserIDMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata (including x-user-id) to outgoing calls made
// while serving that request.
func forwardMetadata(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if out, ok := metadata.FromOutgoingContext(ctx); ok {
			md = metadata.Join(md, out)
		}
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
