// Package api 提供只读的 HTTP 状态接口和 Prometheus 指标
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"app-alfen-go/internal/pkg/devicemanager"
	"app-alfen-go/internal/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateSource 提供设备状态
type StateSource interface {
	Snapshots() []devicemanager.DeviceSnapshot
	Snapshot(name string) (devicemanager.DeviceSnapshot, bool)
}

// ConnectionState 报告 MQTT 连接状态，可以为 nil
type ConnectionState interface {
	IsConnected() bool
}

// Config HTTP 服务配置
type Config struct {
	Address     string
	MetricsPath string // 为空时不暴露指标
	Version     string
}

// Server HTTP 状态服务
type Server struct {
	cfg       Config
	lc        logger.LoggingClient
	router    *mux.Router
	server    *http.Server
	state     StateSource
	mqtt      ConnectionState
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewServer 创建服务并注册路由
func NewServer(cfg Config, state StateSource, conn ConnectionState, gatherer prometheus.Gatherer, lc logger.LoggingClient) *Server {
	s := &Server{
		cfg:       cfg,
		lc:        lc,
		router:    mux.NewRouter(),
		state:     state,
		mqtt:      conn,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.cfg.MetricsPath != "" && s.gatherer != nil {
		s.router.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device}", s.handleGetDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device}/sockets/{socket:[0-9]+}", s.handleGetSocket).Methods(http.MethodGet)
}

// Handler 返回路由，测试时直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台监听
func (s *Server) Start() error {
	if s.cfg.Address == "" {
		return errors.New("please specify a listen address")
	}
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.lc.Info("Starting HTTP server", "address", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.lc.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.lc.Info("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	connected := false
	if s.mqtt != nil {
		connected = s.mqtt.IsConnected()
	}
	s.writeJSON(w, map[string]any{
		"status":        "ok",
		"version":       s.cfg.Version,
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
		"mqttConnected": connected,
		"deviceCount":   len(s.state.Snapshots()),
	}, http.StatusOK)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.state.Snapshots()
	s.writeJSON(w, map[string]any{
		"devices": devices,
		"count":   len(devices),
	}, http.StatusOK)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.state.Snapshot(mux.Vars(r)["device"])
	if !ok {
		s.writeError(w, "Device not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap, http.StatusOK)
}

func (s *Server) handleGetSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, ok := s.state.Snapshot(vars["device"])
	if !ok {
		s.writeError(w, "Device not found", http.StatusNotFound)
		return
	}
	socket, err := strconv.Atoi(vars["socket"])
	if err != nil {
		s.writeError(w, "Invalid socket", http.StatusBadRequest)
		return
	}
	ss, ok := snap.Sockets[socket]
	if !ok {
		s.writeError(w, "Socket not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, ss, http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.lc.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, map[string]string{"error": message}, statusCode)
}
