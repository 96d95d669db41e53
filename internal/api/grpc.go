package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"quantsim/internal/domain"
	"quantsim/internal/jobs"
)

// JobServiceName is the fully qualified gRPC service name.
const JobServiceName = "quantsim.JobService"

// JobAPI is the subset of the orchestrator served over gRPC.
type JobAPI interface {
	JobReader
	Submit(ctx context.Context, p jobs.Params) (*domain.SimulationJob, error)
	Cancel(ctx context.Context, id string) (*domain.SimulationJob, error)
}

var _ JobAPI = (*jobs.Orchestrator)(nil)

// jobServer is the handler type of the service descriptor. Requests and
// responses are structpb.Struct values carrying the JSON shape of the HTTP
// API: Submit takes Params, Get and Cancel take {"job_id": ...}, and all
// three return the job record.
type jobServer interface {
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// JobService serves quantsim.JobService.
type JobService struct {
	jobs JobAPI
	log  *slog.Logger
}

var _ jobServer = (*JobService)(nil)

// NewJobService creates a JobService backed by j.
func NewJobService(j JobAPI) *JobService {
	return &JobService{jobs: j, log: slog.Default().With("component", "grpc-jobs")}
}

// RegisterGRPC registers the service on gs.
func (s *JobService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&jobServiceDesc, s)
}

func (s *JobService) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var p jobs.Params
	if err := fromStruct(in, &p); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding params: %v", err)
	}
	if p.Trigger == "" {
		p.Trigger = "grpc"
	}
	job, err := s.jobs.Submit(ctx, p)
	if err != nil {
		return nil, grpcError(err)
	}
	s.log.Info("job submitted", "jobID", job.ID)
	return toStruct(job)
}

func (s *JobService) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(in)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(job)
}

func (s *JobService) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(in)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(job)
}

func jobID(in *structpb.Struct) (string, error) {
	id := in.GetFields()["job_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "job_id required")
	}
	return id, nil
}

// grpcError maps orchestrator errors onto status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidParams), errors.Is(err, domain.ErrUnknownStrategy):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrPoolClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ---------------------------------------------------------------------------
// Descriptor
// ---------------------------------------------------------------------------

func unary(method string, call func(jobServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	full := "/" + JobServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(jobServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(jobServer), ctx, req.(*structpb.Struct))
		})
	}
}

var jobServiceDesc = grpc.ServiceDesc{
	ServiceName: JobServiceName,
	HandlerType: (*jobServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unary("Submit", jobServer.Submit)},
		{MethodName: "Get", Handler: unary("Get", jobServer.Get)},
		{MethodName: "Cancel", Handler: unary("Cancel", jobServer.Cancel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantsim/jobs.proto",
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// JobClient calls quantsim.JobService.
type JobClient struct {
	cc grpc.ClientConnInterface
}

// NewJobClient wraps an established connection.
func NewJobClient(cc grpc.ClientConnInterface) *JobClient {
	return &JobClient{cc: cc}
}

// Submit queues a simulation and returns its PENDING job.
func (c *JobClient) Submit(ctx context.Context, p jobs.Params) (*domain.SimulationJob, error) {
	in, err := toStruct(p)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "Submit", in)
}

// Get returns the job record.
func (c *JobClient) Get(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return c.call(ctx, "Get", idStruct(id))
}

// Cancel requests cancellation of a job.
func (c *JobClient) Cancel(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return c.call(ctx, "Cancel", idStruct(id))
}

func (c *JobClient) call(ctx context.Context, method string, in *structpb.Struct) (*domain.SimulationJob, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+JobServiceName+"/"+method, in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	var job domain.SimulationJob
	if err := fromStruct(out, &job); err != nil {
		return nil, fmt.Errorf("decoding %s reply: %w", method, err)
	}
	return &job, nil
}

func idStruct(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"job_id": structpb.NewStringValue(id)}}
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
