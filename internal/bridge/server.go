package bridge

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/danielpatrickdp/hpsearch/internal/objective"
	"github.com/danielpatrickdp/hpsearch/internal/study"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server-struct
// Server receives epoch and final reports from out-of-process trainers and
// routes them to the observer of the matching run.
type Server struct {
	lis  net.Listener
	grpc *grpc.Server

	mu       sync.Mutex
	sessions map[string]*session
}

// #endregion server-struct

// #region constructor
// NewServer listens on addr ("127.0.0.1:0" picks a free port).
func NewServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return NewServerWithListener(lis), nil
}

// NewServerWithListener serves on an existing listener.
func NewServerWithListener(lis net.Listener) *Server {
	s := &Server{
		lis:      lis,
		grpc:     grpc.NewServer(),
		sessions: make(map[string]*session),
	}
	s.grpc.RegisterService(&ReportServiceDesc, s)
	return s
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	log.Printf("[BRIDGE] listening on %s", s.lis.Addr())
	return s.grpc.Serve(s.lis)
}

// Stop closes the listener and waits for in-flight calls.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// Addr is the address trainers should dial.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// #endregion constructor

// #region sessions
// Open registers a run. Reports for runID reach obs until the session closes.
func (s *Server) Open(runID string, obs objective.EpochObserver) objective.ReportSession {
	sess := &session{
		server: s,
		runID:  runID,
		obs:    obs,
		pruned: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[runID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Server) lookup(runID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown run %q", runID)
	}
	return sess, nil
}

// session serializes the observer calls of one run.
type session struct {
	server *Server
	runID  string
	obs    objective.EpochObserver

	mu       sync.Mutex
	final    objective.Metrics
	stopOnce sync.Once
	pruned   chan struct{}
}

func (ss *session) Pruned() <-chan struct{} { return ss.pruned }

func (ss *session) Final() (objective.Metrics, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.final, ss.final != nil
}

func (ss *session) Close() {
	ss.server.mu.Lock()
	if ss.server.sessions[ss.runID] == ss {
		delete(ss.server.sessions, ss.runID)
	}
	ss.server.mu.Unlock()
}

func (ss *session) stop() {
	ss.stopOnce.Do(func() { close(ss.pruned) })
}

// #endregion sessions

// #region handlers
// ReportEpoch forwards one epoch's metrics and answers with the verdict.
func (s *Server) ReportEpoch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := decodeReport(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := s.lookup(r.runID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	v := sess.obs.OnEpochEnd(r.epoch, r.metrics)
	if v != study.VerdictContinue {
		log.Printf("[BRIDGE] run %s epoch %d: %s", r.runID, r.epoch, v)
		sess.stop()
	}
	return encodeVerdict(v), nil
}

// ReportFinal stores the run's final metrics.
func (s *Server) ReportFinal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := decodeReport(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := s.lookup(r.runID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.final = r.metrics
	return encodeVerdict(study.VerdictContinue), nil
}

// #endregion handlers
