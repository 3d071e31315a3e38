package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"slices"
	"sync"
	"time"

	"capstan/internal/api"
	"capstan/internal/daemon"
	"capstan/internal/logging"
	"capstan/internal/logs"
	"capstan/internal/preflight"
	"capstan/internal/queue"
	"capstan/internal/stage"
	"capstan/internal/trigger"
)

// Server answers control calls as JSON-RPC over a Unix domain socket.
// One daemon process owns the socket; CLI invocations are short-lived
// clients.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	rpc      *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer claims the socket path and registers the RPC surface. A
// stale socket left by a crashed daemon is removed first; the flock in
// the daemon package guarantees no live process still owns it.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}

	listener, err := claimSocket(path)
	if err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Capstan", &service{daemon: d, logger: logger, ctx: ctx}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		rpc:      rpcServer,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// claimSocket removes any leftover socket file and binds a fresh one.
func claimSocket(path string) (net.Listener, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	return listener, nil
}

// Serve accepts connections until Close. Each connection runs in its
// own goroutine with the JSON codec that Dial uses on the client side.
func (s *Server) Serve() {
	s.logger.Debug("IPC socket ready", logging.String("socket", s.path))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("socket accept failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ipc_accept_failed"),
				logging.String("impact", "IPC clients may fail to connect"),
				logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
}

// Close stops accepting, waits for in-flight calls, and removes the
// socket file so the next start does not trip over it.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("stale socket left behind",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun capstan stop"))
	}
}

// service holds the methods net/rpc dispatches to. Every method uses the
// daemon's lifetime context rather than a per-call one: net/rpc has no
// notion of call cancellation, and queue operations are short.
type service struct {
	ctx    context.Context
	daemon *daemon.Daemon
	logger *slog.Logger
}

func (s *service) log() *slog.Logger {
	logger := s.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logger.With(logging.String(logging.FieldComponent, "ipc"))
}

// countedQueueOp wraps the maintenance calls that report how many rows
// they touched, logging the count under a shared field name.
func (s *service) countedQueueOp(event, message string, op func(context.Context) (int64, error)) (int64, error) {
	n, err := op(s.ctx)
	if err != nil {
		return 0, err
	}
	s.log().Info(message,
		logging.String(logging.FieldEventType, event),
		logging.Int64("affected", n))
	return n, nil
}

// wireItem converts a queue row into the wire struct clients decode.
func wireItem(item *queue.Item) QueueItem {
	return QueueItem(api.FromQueueItem(item))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		*resp = StartResponse{Started: false, Message: err.Error()}
		return nil
	}
	*resp = StartResponse{Started: true, Message: "daemon started"}
	s.log().Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	st := s.daemon.Status(s.ctx)
	stats := make(map[string]int, len(st.Workflow.QueueStats))
	for status, count := range st.Workflow.QueueStats {
		stats[string(status)] = count
	}
	*resp = StatusResponse{
		Running:     st.Running,
		PID:         st.PID,
		QueueDBPath: st.QueueDBPath,
		LockPath:    st.LockFilePath,
		QueueStats:  stats,
		LastError:   st.Workflow.LastError,
		StageHealth: stageHealthList(st.Workflow.StageHealth),
		Preflight:   preflightList(st.Preflight),
	}
	if st.Workflow.LastItem != nil {
		last := wireItem(st.Workflow.LastItem)
		resp.LastItem = &last
	}
	return nil
}

// stageHealthList flattens the health map in name order so repeated
// status calls render identically.
func stageHealthList(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := slices.Sorted(maps.Keys(health))
	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

func preflightList(checks []preflight.Result) []PreflightCheck {
	if len(checks) == 0 {
		return nil
	}
	out := make([]PreflightCheck, 0, len(checks))
	for _, check := range checks {
		out = append(out, PreflightCheck{
			Name:        check.Name,
			Description: check.Description,
			Optional:    check.Optional,
			Ready:       check.Ready,
			Detail:      check.Detail,
		})
	}
	return out
}

func (s *service) Release(req ReleaseRequest, resp *ReleaseResponse) error {
	s.log().Debug("release requested", logging.String("scope", req.Scope))
	item, err := s.daemon.SubmitRelease(s.ctx, trigger.Trigger{
		Kind:        trigger.KindDispatch,
		Scope:       req.Scope,
		Environment: req.Environment,
		Requester:   req.Requester,
	})
	if err != nil {
		return err
	}
	resp.Item = wireItem(item)
	s.log().Info("release queued via IPC",
		logging.String(logging.FieldEventType, "release_queued"),
		logging.Int64(logging.FieldItemID, item.ID))
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	var statuses []queue.Status
	for _, raw := range req.Statuses {
		if parsed, ok := queue.ParseStatus(raw); ok {
			statuses = append(statuses, parsed)
		}
	}
	rows, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Items = make([]QueueItem, 0, len(rows))
	for _, item := range rows {
		if item == nil {
			continue
		}
		resp.Items = append(resp.Items, wireItem(item))
	}
	return nil
}

// QueueDescribe reports a missing id as an error; net/rpc has no other
// way to signal absence, and the client side translates it back to nil.
func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid queue item id %d", req.ID)
	}
	item, err := s.daemon.GetQueueItem(s.ctx, req.ID)
	switch {
	case err != nil:
		return err
	case item == nil:
		return fmt.Errorf("queue item %d not found", req.ID)
	}
	resp.Item = wireItem(item)
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.countedQueueOp("queue_clear", "queue cleared", s.daemon.ClearQueue)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueClearCompleted(_ QueueClearCompletedRequest, resp *QueueClearCompletedResponse) error {
	removed, err := s.countedQueueOp("queue_clear_completed", "published releases cleared", s.daemon.ClearCompleted)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	removed, err := s.countedQueueOp("queue_clear_failed", "failed releases cleared", s.daemon.ClearFailed)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueReset(_ QueueResetRequest, resp *QueueResetResponse) error {
	updated, err := s.countedQueueOp("queue_reset_stuck", "stuck releases reset", s.daemon.ResetStuck)
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	updated, err := s.countedQueueOp("queue_retry", "failed releases retried", func(ctx context.Context) (int64, error) {
		return s.daemon.RetryFailed(ctx, req.IDs)
	})
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) QueueStop(req QueueStopRequest, resp *QueueStopResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("queue stop requires at least one id")
	}
	updated, err := s.countedQueueOp("queue_stop", "releases stopped", func(ctx context.Context) (int64, error) {
		return s.daemon.StopQueueItems(ctx, req.IDs)
	})
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	path := s.daemon.LogPath()
	if path == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if req.Follow && wait <= 0 {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		// Bound the blocking follow so a slow client cannot pin a server
		// goroutine; the client immediately re-polls from resp.Offset.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	out, err := logs.Tail(ctx, path, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	resp.Offset = out.Offset
	if err == nil {
		resp.Lines = out.Lines
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	summary, err := s.daemon.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	*resp = QueueHealthResponse{
		Total:      summary.Total,
		Pending:    summary.Pending,
		Processing: summary.Processing,
		Failed:     summary.Failed,
		Review:     summary.Review,
		Published:  summary.Published,
	}
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil {
		return err
	}
	*resp = DatabaseHealthResponse{
		DBPath:           health.DBPath,
		DatabaseExists:   health.DatabaseExists,
		DatabaseReadable: health.DatabaseReadable,
		SchemaVersion:    health.SchemaVersion,
		TableExists:      health.TableExists,
		ColumnsPresent:   health.ColumnsPresent,
		MissingColumns:   health.MissingColumns,
		IntegrityCheck:   health.IntegrityCheck,
		TotalItems:       health.TotalItems,
		Error:            health.Error,
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, detail, err := s.daemon.TestNotification(s.ctx)
	*resp = TestNotificationResponse{Sent: sent, Message: detail}
	return err
}
