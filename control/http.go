// control/http.go
// Author: momentics <momentics@gmail.com>
//
// Loopback-only debug listener: Prometheus exposition, config
// inspection and hot reload, and debug probe dumps. This listener is
// never the arbiter's own client socket; it serves operators, not
// arbitrated processes.

package control

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/corearbiterd/api"
)

// DebugServer serves /metrics, /debug/config, and /debug/state on a
// loopback address.
type DebugServer struct {
	log hclog.Logger
	srv *http.Server
}

// NewDebugServer wires the handler mux. Start actually binds.
func NewDebugServer(log hclog.Logger, addr string, reg *prometheus.Registry, ctl api.Control, probes api.Debug) *DebugServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, ctl.GetConfig())
		case http.MethodPost:
			var update map[string]any
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := ctl.SetConfig(update); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			writeJSON(w, ctl.GetConfig())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, probes.DumpState())
	})
	return &DebugServer{
		log: log.Named("debug"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener and serves in a background goroutine. The
// address must resolve to a loopback interface.
func (d *DebugServer) Start() error {
	ln, err := net.Listen("tcp", d.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "control: bind debug listener %s", d.srv.Addr)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && !tcp.IP.IsLoopback() {
		ln.Close()
		return errors.Errorf("control: debug listener %s is not loopback", ln.Addr())
	}
	d.log.Info("debug listener ready", "addr", ln.Addr().String())
	go func() {
		if err := d.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.Error("debug listener failed", "error", err)
		}
	}()
	return nil
}

// Shutdown closes the listener. Satisfies api.GracefulShutdown.
func (d *DebugServer) Shutdown() error {
	return d.srv.Close()
}

var _ api.GracefulShutdown = (*DebugServer)(nil)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
