package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/adwski/webrtc-meshrelay/backend/validate"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultRelayCallTimeout = 2 * time.Second
	maxBeaconSize           = 4096
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	Leave(ctx context.Context, connID, roomID string) (bool, error)
	LookupRoom(ctx context.Context, roomID string) (model.RoomInfo, bool, error)
	Stats(ctx context.Context) (model.Stats, error)
	MaxParticipants() int
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type RoomResponse struct {
	RoomID          string `json:"roomId"`
	Participants    int    `json:"participants"`
	MaxParticipants int    `json:"maxParticipants"`
	Private         bool   `json:"private"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    RoomService
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	ListenAddr  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RoomService,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/room", srv.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/room/{roomID}", srv.lookupRoom).Methods(http.MethodGet)
	r.HandleFunc("/api/user-leave", srv.userLeave).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", srv.stats).Methods(http.MethodGet)
	r.Methods(http.MethodOptions).HandlerFunc(corsHandler)
	r.Use(corsOrigin)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func corsOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// createRoom hands out a fresh room id, the room itself appears on first join.
func (srv *Server) createRoom(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &CreateRoomResponse{RoomID: uuid.NewString()})
}

func (srv *Server) lookupRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	if err := validate.RoomID(roomID); err != nil {
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRelayCallTimeout)
	defer cancel()
	info, _, err := srv.svc.LookupRoom(ctx, roomID)
	if err != nil {
		srv.logger.Error().Err(err).Msg("room lookup failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// absent rooms look like empty public rooms, they are created on join
	srv.writeJSON(w, http.StatusOK, &RoomResponse{
		RoomID:          roomID,
		Participants:    info.Participants,
		MaxParticipants: srv.svc.MaxParticipants(),
		Private:         info.Private,
	})
}

// userLeave accepts navigator.sendBeacon payloads, which arrive as text/plain.
func (srv *Server) userLeave(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBeaconSize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var beacon model.LeaveBeacon
	if err = json.Unmarshal(body, &beacon); err != nil || beacon.ConnID == "" || beacon.RoomID == "" {
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "malformed leave notification"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRelayCallTimeout)
	defer cancel()
	left, err := srv.svc.Leave(ctx, beacon.ConnID, beacon.RoomID)
	if err != nil {
		srv.logger.Error().Err(err).Msg("beacon leave failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	srv.logger.Debug().
		Str("connID", beacon.ConnID).
		Str("roomID", beacon.RoomID).
		Bool("left", left).
		Msg("got leave beacon")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (srv *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRelayCallTimeout)
	defer cancel()
	stats, err := srv.svc.Stats(ctx)
	if err != nil {
		srv.logger.Error().Err(err).Msg("stats query failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: stats})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
