package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/adwski/webrtc-meshrelay/backend/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultRelayCallTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 64 * 1024 // SDP offers with many candidates
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultSendQueueSize               = 256

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	Relay interface {
		Connect(ctx context.Context, connID string, ep relay.Endpoint) error
		Deliver(ctx context.Context, connID string, req model.Request) error
		Disconnect(ctx context.Context, connID string) error
	}

	JoinLimiter interface {
		AllowJoin(ctx context.Context, addr string) error
	}

	Config struct {
		Logger         *zerolog.Logger
		Relay          Relay
		Limiter        JoinLimiter
		ListenAddr     string
		PingInterval   time.Duration
		PongWait       time.Duration
		SendQueueSize  int
		MaxMessageSize int64

		// TrustedProxies lists peers whose X-Forwarded-For header is honored.
		TrustedProxies []netip.Prefix
	}

	Server struct {
		relay   Relay
		limiter JoinLimiter
		ws      *websocket.Upgrader
		*http.Server

		logger         zerolog.Logger
		pingInterval   time.Duration
		pongWait       time.Duration
		sendQueueSize  int
		maxMessageSize int64
		trustedProxies []netip.Prefix
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:         cfg.Logger.With().Str("component", "websocket-server").Logger(),
		relay:          cfg.Relay,
		limiter:        cfg.Limiter,
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
		sendQueueSize:  cfg.SendQueueSize,
		maxMessageSize: cfg.MaxMessageSize,
		trustedProxies: cfg.TrustedProxies,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	if srv.pingInterval <= 0 {
		srv.pingInterval = defaultPingInterval
	}
	if srv.pongWait <= srv.pingInterval {
		srv.pongWait = srv.pingInterval * 2
	}
	if srv.sendQueueSize <= 0 {
		srv.sendQueueSize = defaultSendQueueSize
	}
	if srv.maxMessageSize <= 0 {
		srv.maxMessageSize = defaultWebSocketMaxMessageSize
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", srv.signal)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) signal(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already replied
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	var (
		connID = uuid.NewString()
		sess   = newSession(srv.sendQueueSize)
		addr   = srv.clientAddr(r)
		logger = srv.logger.With().
			Str("connID", connID).
			Str("addr", addr).
			Logger()
	)

	ctx, cancel := context.WithCancel(context.Background()) // long-living connection context

	connCtx, connCancel := context.WithTimeout(ctx, defaultRelayCallTimeout)
	err = srv.relay.Connect(connCtx, connID, sess)
	connCancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to register connection")
		cancel()
		webSocketCloser(conn, &logger)
		return
	}
	logger.Debug().Msg("signaling session created")

	go srv.handleWSConn(ctx, cancel, conn, connID, addr, sess, &logger)
}

func (srv *Server) destroySession(connID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRelayCallTimeout)
	defer cancel()
	if err := srv.relay.Disconnect(ctx, connID); err != nil {
		logger.Error().Err(err).Msg("failed to unregister connection")
		return
	}
	logger.Debug().Msg("signaling session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	connID string,
	addr string,
	sess *session,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		defer cancel()
		srv.webSocketReceiver(ctx, wg, conn, connID, addr, sess, logger)
	}()
	go func() {
		defer cancel()
		srv.webSocketSender(ctx, wg, conn, sess, logger)
	}()

	// closing the socket unblocks a receiver stuck in read
	<-ctx.Done()
	webSocketCloser(conn, logger)
	wg.Wait()
	// a closed session is collected by the relay sweeper even if Disconnect is lost
	sess.Close()
	srv.destroySession(connID, logger)
}

func (srv *Server) webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	sess *session,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(srv.pingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-sess.closing:
			// flush what relay queued before closing, e.g. a kick notice
			for {
				select {
				case msg := <-sess.tx:
					if err := writeEnvelope(conn, msg); err != nil {
						logger.Error().Err(err).Msg("failed to flush outgoing message")
						break SendLoop
					}
				default:
					logger.Debug().Msg("session closed by relay")
					break SendLoop
				}
			}
		case <-pingTicker.C:
			wsErr := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case msg := <-sess.tx:
			if err := writeEnvelope(conn, msg); err != nil {
				logger.Error().Err(err).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, msg model.Envelope) error {
	b, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	wsW, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err = wsW.Write(b); err != nil {
		return err
	}
	return wsW.Close()
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	connID string,
	addr string,
	sess *session,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(srv.maxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(srv.pongWait)
	})
	err := readDeadLineFunc(srv.pongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, wsErr := conn.ReadMessage()
		if wsErr != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(wsErr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway):
				logger.Debug().Err(wsErr).Msg("connection closed")
			default:
				logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}
		// any inbound traffic proves liveness
		if err = readDeadLineFunc(srv.pongWait); err != nil {
			logger.Error().Err(err).Msg("failed to set websocket read deadline")
			return
		}

		var req model.Request
		if wsErr = json.Unmarshal(msg, &req); wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to unmarshall incoming message")
			sess.reject(model.CodeValidation, "malformed message")
			continue
		}

		if req.Type == model.EventJoinRoom && srv.limiter != nil {
			if err = srv.limiter.AllowJoin(ctx, addr); err != nil {
				sess.reject(model.CodeRateLimited, err.Error())
				continue
			}
		}

		if err = srv.relay.Deliver(ctx, connID, req); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("failed to deliver message to relay")
			}
			return
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send close frame")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}

// clientAddr returns the client IP used for rate limiting. X-Forwarded-For
// is walked right to left only while hops belong to trusted proxies, so
// clients cannot pick their own address.
func (srv *Server) clientAddr(r *http.Request) string {
	addr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		addr = r.RemoteAddr
	}
	if !srv.trusted(addr) {
		return addr
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr = hop
		if !srv.trusted(hop) {
			break
		}
	}
	return addr
}

func (srv *Server) trusted(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range srv.trustedProxies {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
