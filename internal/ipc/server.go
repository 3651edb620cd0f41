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
	"time"

	"photoqueue/internal/daemon"
	"photoqueue/internal/history"
	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
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

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
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
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.LockPath = status.LockPath
	resp.SocketPath = status.SocketPath
	resp.HistoryPath = status.HistoryPath
	resp.Transport = status.Transport
	resp.Destination = status.Destination
	resp.Summary = fromSummary(status.Summary)
	resp.DropDir = status.DropDir
	resp.DropWatching = status.DropWatching
	resp.CardWatching = status.CardWatching
	return nil
}

func (s *service) Add(req AddRequest, resp *AddResponse) error {
	s.logger.Debug("add requested", logging.Int("path_count", len(req.Paths)))
	outcome, err := s.daemon.AddPaths(req.Paths)
	if err != nil {
		return err
	}
	resp.Created = outcome.Result.Created
	resp.Duplicates = outcome.Result.Duplicates
	resp.Tasks = make([]Task, 0, len(outcome.Result.Tasks))
	for _, task := range outcome.Result.Tasks {
		resp.Tasks = append(resp.Tasks, FromTask(task))
	}
	for _, rejection := range outcome.Result.Rejected {
		resp.Rejected = append(resp.Rejected, Rejection{
			FileName: rejection.File.Name,
			Reason:   string(rejection.Reason),
			Message:  rejection.Message,
		})
	}
	for _, skipped := range outcome.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedPath{Path: skipped.Path, Reason: skipped.Reason})
	}
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, parsed)
	}
	tasks := s.daemon.List(statuses)
	resp.Tasks = make([]Task, 0, len(tasks))
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, FromTask(task))
	}
	return nil
}

func (s *service) Retry(req RetryRequest, resp *RetryResponse) error {
	s.logger.Debug("retry requested", logging.Int("item_count", len(req.IDs)))
	retried, err := s.daemon.Retry(req.IDs)
	resp.Retried = retried
	if err != nil {
		return err
	}
	s.logger.Info("tasks retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int("updated_count", retried))
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("cancel requires at least one id")
	}
	s.logger.Debug("cancel requested", logging.Int("item_count", len(req.IDs)))
	canceled, err := s.daemon.Cancel(req.IDs)
	resp.Canceled = canceled
	if err != nil {
		return err
	}
	s.logger.Info("tasks canceled",
		logging.String(logging.FieldEventType, "queue_cancel"),
		logging.Int("updated_count", canceled))
	return nil
}

func (s *service) Prune(req PruneRequest, resp *PruneResponse) error {
	if req.OlderThanSeconds < 0 {
		return fmt.Errorf("invalid prune age %d", req.OlderThanSeconds)
	}
	resp.Removed = s.daemon.Prune(time.Duration(req.OlderThanSeconds) * time.Second)
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	filter := history.Filter{Limit: req.Limit, Since: req.Since}
	if req.Status != "" {
		parsed, ok := queue.ParseStatus(req.Status)
		if !ok {
			return fmt.Errorf("unknown status %q", req.Status)
		}
		filter.Status = parsed
	}
	entries, err := s.daemon.History(s.ctx, filter)
	if err != nil {
		return err
	}
	resp.Entries = make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, fromEntry(entry))
	}
	stats, err := s.daemon.HistoryStats(s.ctx, req.Since)
	if err != nil {
		return err
	}
	resp.Stats = HistoryStats(stats)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
