package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// REST routes served by the gateway.
const (
	RouteStart  = "/v1/server/start"
	RouteStop   = "/v1/server/stop"
	RouteStatus = "/v1/server"
)

// NewGateway returns a REST handler that forwards to the admin service
// reachable through conn.
func NewGateway(conn grpc.ClientConnInterface, opts ...runtime.ServeMuxOption) (http.Handler, error) {
	mux := runtime.NewServeMux(opts...)

	routes := []struct {
		method  string
		pattern string
		rpc     string
		body    bool
	}{
		{http.MethodPost, RouteStart, MethodStart, true},
		{http.MethodPost, RouteStop, MethodStop, false},
		{http.MethodGet, RouteStatus, MethodStatus, false},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, forward(mux, conn, rt.pattern, rt.rpc, rt.body)); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func forward(mux *runtime.ServeMux, conn grpc.ClientConnInterface, pattern, rpc string, body bool) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		inbound, outbound := runtime.MarshalerForRequest(mux, r)

		ctx, err := runtime.AnnotateContext(ctx, mux, r, rpc, runtime.WithHTTPPathPattern(pattern))
		if err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, err)
			return
		}

		in := new(structpb.Struct)
		if body {
			if err := inbound.NewDecoder(r.Body).Decode(in); err != nil && !errors.Is(err, io.EOF) {
				runtime.HTTPError(ctx, mux, outbound, w, r, status.Errorf(codes.InvalidArgument, "malformed request body: %v", err))
				return
			}
		}

		var md runtime.ServerMetadata
		out := new(structpb.Struct)
		if err := conn.Invoke(ctx, rpc, in, out, grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD)); err != nil {
			ctx = runtime.NewServerMetadataContext(ctx, md)
			runtime.HTTPError(ctx, mux, outbound, w, r, err)
			return
		}
		ctx = runtime.NewServerMetadataContext(ctx, md)
		runtime.ForwardResponseMessage(ctx, mux, outbound, w, r, out)
	}
}
