package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// AdminServiceName is the fully qualified gRPC service name.
const AdminServiceName = "sandboxsftp.admin.v1.AdminService"

// Full method names of the admin service.
const (
	MethodStart  = "/" + AdminServiceName + "/Start"
	MethodStop   = "/" + AdminServiceName + "/Stop"
	MethodStatus = "/" + AdminServiceName + "/Status"
)

// AdminServer is the server API for the admin service. Messages are
// google.protobuf.Struct values.
type AdminServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(fullMethod string, call func(AdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unaryHandler(MethodStart, AdminServer.Start)},
		{MethodName: "Stop", Handler: unaryHandler(MethodStop, AdminServer.Stop)},
		{MethodName: "Status", Handler: unaryHandler(MethodStatus, AdminServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sandboxsftp/admin/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// startRequest is the JSON shape of a Start request. Unset fields fall back
// to the configured defaults.
type startRequest struct {
	Addr        *string            `json:"addr"`
	RootDir     *string            `json:"root_dir"`
	Username    *string            `json:"username"`
	Password    *string            `json:"password"`
	HostKeyPath *string            `json:"host_key_path"`
	MaxReadSize *uint32            `json:"max_read_size"`
	ReadOnly    *bool              `json:"read_only"`
	Rules       []types.AccessRule `json:"rules"`
}

// AdminService implements AdminServer on top of a Manager.
type AdminService struct {
	manager  *Manager
	defaults StartOptions
}

var _ AdminServer = (*AdminService)(nil)

// NewAdminService creates an admin service. defaults fill fields a Start
// request leaves unset.
func NewAdminService(manager *Manager, defaults StartOptions) *AdminService {
	return &AdminService{manager: manager, defaults: defaults}
}

// Start starts the SFTP server, replacing the running one.
func (a *AdminService) Start(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	opts, err := a.startOptions(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid start request: %v", err)
	}
	if opts.RootDir == "" {
		return nil, status.Error(codes.InvalidArgument, "root_dir is required")
	}

	st, err := a.manager.Start(ctx, opts)
	if err != nil {
		logging.Warn("Admin start failed", logging.String("root", opts.RootDir), logging.Err(err))
		return nil, toStatus(err)
	}
	return statusStruct(st)
}

// Stop stops the running SFTP server.
func (a *AdminService) Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := a.manager.Stop(); err != nil {
		return nil, toStatus(err)
	}
	return statusStruct(a.manager.Status())
}

// Status reports the running SFTP server.
func (a *AdminService) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return statusStruct(a.manager.Status())
}

func (a *AdminService) startOptions(in *structpb.Struct) (StartOptions, error) {
	opts := a.defaults
	opts.Rules = append([]types.AccessRule(nil), a.defaults.Rules...)
	if in == nil || len(in.GetFields()) == 0 {
		return opts, nil
	}

	data, err := protojson.Marshal(in)
	if err != nil {
		return opts, err
	}
	var req startRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return opts, err
	}

	if req.Addr != nil {
		opts.Addr = *req.Addr
	}
	if req.RootDir != nil {
		opts.RootDir = *req.RootDir
	}
	if req.Username != nil {
		opts.Username = *req.Username
	}
	if req.Password != nil {
		opts.Password = *req.Password
	}
	if req.HostKeyPath != nil {
		opts.HostKeyPath = *req.HostKeyPath
	}
	if req.MaxReadSize != nil {
		opts.MaxReadSize = *req.MaxReadSize
	}
	if req.ReadOnly != nil {
		opts.ReadOnly = *req.ReadOnly
	}
	if req.Rules != nil {
		opts.Rules = req.Rules
	}
	return opts, nil
}

func statusStruct(st types.ServerStatus) (*structpb.Struct, error) {
	fields := map[string]any{
		"running":         st.Running,
		"active_sessions": st.ActiveSessions,
	}
	if st.Running {
		fields["addr"] = st.Addr
		fields["root_dir"] = st.RootDir
		fields["started_at"] = st.StartedAt.UTC().Format(time.RFC3339)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode status: %v", err)
	}
	return s, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrInvalidRoot), errors.Is(err, types.ErrInvalidPattern):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
