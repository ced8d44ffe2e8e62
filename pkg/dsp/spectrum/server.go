package spectrum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// StatusFunc supplies the receiver status document served at /status.
type StatusFunc func() interface{}

// Server exposes spectrum snapshots and receiver status over HTTP as JSON.
// It replaces a GUI: anything that can fetch JSON can render the spectra.
type Server struct {
	port      int
	analyzers map[string]map[string]*Analyzer
	status    StatusFunc
	srv       *http.Server
	mu        sync.RWMutex
}

func NewServer(port int) *Server {
	return &Server{
		port:      port,
		analyzers: make(map[string]map[string]*Analyzer),
	}
}

// Register adds an analyzer under a chain name.
func (s *Server) Register(group string, a *Analyzer) {
	s.mu.Lock()
	if s.analyzers[group] == nil {
		s.analyzers[group] = make(map[string]*Analyzer)
	}
	s.analyzers[group][a.Name] = a
	s.mu.Unlock()
}

// SetStatusFunc installs the callback behind /status.
func (s *Server) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	s.status = fn
	s.mu.Unlock()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.RLock()
	index := make(map[string][]string)
	for group, m := range s.analyzers {
		for name := range m {
			index[group] = append(index[group], name)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, index)
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.mu.RLock()
	group := s.analyzers[ps.ByName("group")]
	var a *Analyzer
	if group != nil {
		a = group[ps.ByName("name")]
	}
	s.mu.RUnlock()

	if a == nil {
		http.NotFound(w, r)
		return
	}

	freqs, power := a.Snapshot()
	writeJSON(w, map[string]interface{}{
		"name":        a.Name,
		"sample_rate": a.SampleRate,
		"frequencies": freqs,
		"power_db":    power,
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()

	if fn == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, fn())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Run serves until the context closes.
func (s *Server) Run(ctx context.Context) error {
	router := httprouter.New()
	router.GET("/spectra", s.handleIndex)
	router.GET("/spectrum/:group/:name", s.handleSpectrum)
	router.GET("/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errChan:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
