package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"doorkeeper/internal/api"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/daemon"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	*resp = StatusResponse{
		Running:           status.Running,
		PID:               status.PID,
		LockPath:          status.LockPath,
		DatabasePath:      status.DatabasePath,
		RuntimeConfigPath: status.RuntimeConfigPath,
		APIAddress:        status.APIAddress,
		Video:             api.FromRuntimeStatus(status.Video),
		Channels:          status.Channels,
	}
	return nil
}

func (s *service) VideoStart(_ VideoRequest, resp *VideoResponse) error {
	msg, err := s.daemon.Runtime().Start(s.ctx)
	resp.Message = msg
	return err
}

func (s *service) VideoStop(_ VideoRequest, resp *VideoResponse) error {
	msg, err := s.daemon.Runtime().Stop(s.ctx)
	resp.Message = msg
	return err
}

func (s *service) VideoToggle(_ VideoRequest, resp *VideoResponse) error {
	msg, err := s.daemon.Runtime().Toggle(s.ctx)
	resp.Message = msg
	return err
}

func (s *service) IdentityList(_ IdentityListRequest, resp *IdentityListResponse) error {
	idents, err := s.daemon.Store().ListIdentities(s.ctx)
	if err != nil {
		return err
	}
	resp.Users = make([]User, 0, len(idents))
	for _, ident := range idents {
		resp.Users = append(resp.Users, api.FromIdentity(ident))
	}
	return nil
}

func (s *service) IdentityAdd(req IdentityAddRequest, resp *IdentityResponse) error {
	level, err := identity.ParseAccessLevel(req.AccessLevel)
	if err != nil {
		return err
	}
	ident, err := s.daemon.Store().AddIdentity(s.ctx, req.Name, level)
	if err != nil {
		return err
	}
	resp.User = api.FromIdentity(*ident)
	return nil
}

func (s *service) IdentityUpdate(req IdentityUpdateRequest, resp *IdentityResponse) error {
	update := identity.Update{DisplayName: req.Name}
	if req.AccessLevel != nil {
		level, err := identity.ParseAccessLevel(*req.AccessLevel)
		if err != nil {
			return err
		}
		update.AccessLevel = &level
	}
	ident, err := s.daemon.Store().UpdateIdentity(s.ctx, req.ID, update)
	if err != nil {
		return err
	}
	resp.User = api.FromIdentity(*ident)
	return nil
}

func (s *service) IdentityRemove(req IdentityRemoveRequest, resp *IdentityRemoveResponse) error {
	if err := s.daemon.Store().DeleteIdentity(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Removed = true
	return nil
}

func (s *service) SampleList(req SampleListRequest, resp *SampleListResponse) error {
	samples, err := s.daemon.Store().ListSamples(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Images = make([]Image, 0, len(samples))
	for _, sample := range samples {
		resp.Images = append(resp.Images, api.FromSample(sample))
	}
	return nil
}

func (s *service) SampleAdd(req SampleAddRequest, resp *IdentityResponse) error {
	var (
		ident *identity.Identity
		err   error
	)
	if len(req.Image) > 0 {
		ident, err = s.daemon.EnrollImage(s.ctx, req.ID, req.Label, req.Image)
	} else {
		ident, err = s.daemon.Store().AddSample(s.ctx, req.ID, req.Label, embedding.Vector(req.Embedding))
	}
	if err != nil {
		return err
	}
	resp.User = api.FromIdentity(*ident)
	return nil
}

func (s *service) SampleRemove(req SampleRemoveRequest, resp *IdentityResponse) error {
	ident, err := s.daemon.Store().DeleteSample(s.ctx, req.ID, req.Label)
	if err != nil {
		return err
	}
	resp.User = api.FromIdentity(*ident)
	return nil
}

func (s *service) ConfigGet(req ConfigGetRequest, resp *ConfigGetResponse) error {
	bus := s.daemon.Bus()
	if req.Section == "" {
		resp.Sections = bus.Snapshot()
		return nil
	}
	doc, err := bus.Get(req.Section)
	if err != nil {
		return err
	}
	resp.Sections = map[string]configbus.Document{req.Section: doc}
	return nil
}

func (s *service) ConfigSet(req ConfigSetRequest, resp *ConfigSetResponse) error {
	doc, err := s.daemon.Bus().Replace(s.ctx, req.Section, req.Document)
	if err != nil {
		return err
	}
	resp.Section = req.Section
	resp.Document = doc
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	results := s.daemon.TestNotification(s.ctx)
	resp.Results = make([]ChannelResult, 0, len(results))
	for _, res := range results {
		out := ChannelResult{Channel: res.Channel, Outcome: string(res.Outcome)}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, out)
	}
	return nil
}
