package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"capstan/internal/api"
	"capstan/internal/config"
	"capstan/internal/credentials"
	"capstan/internal/logging"
	"capstan/internal/logs"
	"capstan/internal/queue"
	"capstan/internal/services/forge"
	"capstan/internal/trigger"
)

// maxWebhookBody bounds forge delivery payloads. Push events are a few KB;
// anything near the limit is hostile.
const maxWebhookBody = 1 << 20

// maxLogWait caps follow-mode blocking on /api/logs so a client cannot pin
// a handler goroutine indefinitely.
const maxLogWait = 30 * time.Second

type apiServer struct {
	bind          string
	logger        *slog.Logger
	daemon        *Daemon
	queueSvc      *api.QueueService
	apiToken      string
	webhookSecret []byte
	deliveries    *deliveryLedger

	server   *http.Server
	listener net.Listener
}

// newAPIServer wires the HTTP surface. It returns (nil, nil) when the
// config leaves the bind address empty; a nil *apiServer is safe to
// start and stop.
func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if d == nil || cfg == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}
	logger = logging.NewComponentLogger(logger, "api-server")

	secrets, err := credentials.Load(cfg)
	if err != nil {
		logger.Warn("credentials unavailable for api server", logging.Error(err))
		secrets = &credentials.Secrets{}
	}
	token := strings.TrimSpace(cfg.API.Token)
	if token == "" {
		token = strings.TrimSpace(secrets.APIToken)
	}

	srv := &apiServer{
		bind:       bind,
		logger:     logger,
		daemon:     d,
		queueSvc:   api.NewQueueService(d.store),
		apiToken:   token,
		deliveries: newDeliveryLedger(cfg.Webhook.ReplayWindowSeconds),
	}
	if secret := strings.TrimSpace(secrets.WebhookSecret); secret != "" {
		srv.webhookSecret = []byte(secret)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(token, srv.handleQueueItem))
	mux.HandleFunc("/api/logs", authMiddleware(token, srv.handleLogs))
	mux.HandleFunc("/api/releases", authMiddleware(token, srv.handleReleases))
	if cfg.Webhook.Enabled {
		mux.HandleFunc("/hooks/forge", srv.handleForgeWebhook)
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// start binds the TCP listener and serves in the background until ctx
// ends.
func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.log().Info("api server listening", logging.String("address", ln.Addr().String()))
	return nil
}

// shutdown drains in-flight requests with a bounded grace period.
func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		s.shutdown()
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, usable after start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requireMethod writes a 405 and reports false when the request used any
// other method.
func (s *apiServer) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	status := s.daemon.Status(r.Context())
	checks := make([]api.PreflightCheck, len(status.Preflight))
	for i, check := range status.Preflight {
		checks[i] = api.PreflightCheck{
			Name:        check.Name,
			Description: check.Description,
			Optional:    check.Optional,
			Ready:       check.Ready,
			Detail:      check.Detail,
		}
	}
	payload := api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		QueueDBPath:   status.QueueDBPath,
		LockFilePath:  status.LockFilePath,
		DaemonLogPath: status.LogPath,
		Workflow:      api.FromStatusSummary(status.Workflow),
		Preflight:     checks,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.queueSvc == nil {
		s.writeJSON(w, http.StatusOK, api.QueueListResponse{})
		return
	}
	var statuses []queue.Status
	for _, raw := range r.URL.Query()["status"] {
		if v := strings.TrimSpace(raw); v != "" {
			statuses = append(statuses, queue.Status(v))
		}
	}

	rows, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: rows})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.queueSvc == nil {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if rest == "" || strings.Contains(rest, "/") {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}
	item, err := s.queueSvc.Describe(r.Context(), id)
	switch {
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case item == nil:
		s.writeError(w, http.StatusNotFound, "queue item not found")
	default:
		s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
	}
}

// tailOptionsFromQuery maps /api/logs query parameters onto TailOptions.
// Follow waits default to one second and never exceed maxLogWait.
func tailOptionsFromQuery(query url.Values) logs.TailOptions {
	opts := logs.TailOptions{Offset: -1, Limit: 200}
	if value := strings.TrimSpace(query.Get("offset")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			opts.Offset = parsed
		}
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}
	follow := query.Get("follow")
	opts.Follow = follow == "1" || strings.EqualFold(follow, "true")

	waitMillis, _ := strconv.ParseInt(query.Get("wait"), 10, 64)
	opts.Wait = time.Duration(waitMillis) * time.Millisecond
	if opts.Wait <= 0 && opts.Follow {
		opts.Wait = time.Second
	}
	if opts.Wait > maxLogWait {
		opts.Wait = maxLogWait
	}
	return opts
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	logPath := s.daemon.LogPath()
	if logPath == "" {
		s.writeJSON(w, http.StatusOK, api.LogTailResponse{Lines: nil, Offset: 0})
		return
	}

	opts := tailOptionsFromQuery(r.URL.Query())
	ctx := r.Context()
	if opts.Follow && opts.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, opts)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogTailResponse{Lines: result.Lines, Offset: result.Offset})
}

func (s *apiServer) handleReleases(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var submission api.ReleaseSubmission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&submission); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requester := strings.TrimSpace(submission.Requester)
	if requester == "" {
		requester = "api"
	}
	item, err := s.daemon.SubmitRelease(r.Context(), trigger.Trigger{
		Kind:        trigger.KindDispatch,
		Scope:       submission.Scope,
		Environment: submission.Environment,
		Requester:   requester,
	})
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrReleaseExists):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.ReleaseAccepted{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleForgeWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if len(s.webhookSecret) == 0 {
		s.writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if err := forge.VerifyWebhookSignature(s.webhookSecret, body, r.Header.Get(forge.SignatureHeader)); err != nil {
		s.log().Warn("webhook signature rejected",
			logging.Error(err),
			logging.String(logging.FieldEventType, "webhook_rejected"))
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if event := r.Header.Get(forge.EventHeader); event != "" && !strings.EqualFold(event, "push") {
		s.writeJSON(w, http.StatusOK, api.WebhookAck{Reason: fmt.Sprintf("event %q ignored", event)})
		return
	}

	deliveryID := r.Header.Get(forge.DeliveryHeader)
	if s.deliveries.Observe(deliveryID) {
		s.writeJSON(w, http.StatusOK, api.WebhookAck{Reason: "delivery already processed"})
		return
	}

	event, err := forge.ParsePushEvent(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event.Deleted {
		s.writeJSON(w, http.StatusOK, api.WebhookAck{Reason: "ref deletion ignored"})
		return
	}
	if !strings.HasPrefix(event.Ref, "refs/tags/") {
		s.writeJSON(w, http.StatusOK, api.WebhookAck{Reason: "not a tag push"})
		return
	}

	item, err := s.daemon.SubmitRelease(r.Context(), trigger.Trigger{
		Kind:       trigger.KindTag,
		Ref:        event.Ref,
		Requester:  event.Requester(),
		DeliveryID: deliveryID,
	})
	switch {
	case err == nil:
	case duplicateSubmission(err):
		s.writeJSON(w, http.StatusOK, api.WebhookAck{Reason: err.Error()})
		return
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	dto := api.FromQueueItem(item)
	s.writeJSON(w, http.StatusAccepted, api.WebhookAck{Accepted: true, Item: &dto})
}

// writeJSON sends one JSON response; a nil payload means status only.
func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

// log is nil-safe so handlers built directly in tests can skip the logger.
func (s *apiServer) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}
