package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/sink"
)

// StatusSource is the live record state the API serves.
type StatusSource interface {
	Snapshot() []sink.Status
	Get(path string) (sink.Status, bool)
	Len() int
}

// Server provides a read-only HTTP API over live record state and
// stored samples.
type Server struct {
	addr      string
	status    StatusSource
	store     model.SampleReader // nil when storage is disabled
	metrics   http.Handler       // nil disables /metrics
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. store and metrics may be nil.
func NewServer(addr string, status StatusSource, store model.SampleReader, metrics http.Handler) *Server {
	if addr == "" {
		addr = "127.0.0.1:8091"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		status:  status,
		store:   store,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/records", s.handleRecords)
	r.GET("/api/records/detail", s.handleRecordDetail)
	r.GET("/api/samples", s.handleSamples)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type recordView struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Parent     string    `json:"parent,omitempty"`
	Kind       string    `json:"kind"`
	Mode       string    `json:"mode"`
	Unit       string    `json:"unit,omitempty"`
	Count      uint64    `json:"count"`
	Last       float64   `json:"last"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Mean       float64   `json:"mean"`
	RocMean    float64   `json:"roc_mean"`
	AmpMean    float64   `json:"amplitude_mean"`
	UpdMean    float64   `json:"update_mean_seconds"`
	LastUpdate time.Time `json:"last_update"`
	Alerts     uint64    `json:"alerts"`
	History    []float64 `json:"history,omitempty"`
}

func viewOf(st sink.Status, withHistory bool) recordView {
	v := recordView{
		Path:       st.Info.Path,
		Name:       st.Info.Name,
		Parent:     st.Info.Parent,
		Kind:       st.Info.Kind.String(),
		Mode:       st.Info.Mode.String(),
		Unit:       st.Info.Unit,
		Count:      st.Stats.Count,
		Last:       st.Stats.Last,
		Min:        st.Stats.Min,
		Max:        st.Stats.Max,
		Mean:       st.Stats.Mean,
		RocMean:    st.Stats.RocMean,
		AmpMean:    st.Stats.AmpMean,
		UpdMean:    st.Stats.UpdMean,
		LastUpdate: st.Stats.LastUpdate,
		Alerts:     st.Alerts,
	}
	if withHistory {
		v.History = st.Stats.History
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"records": s.status.Len(),
	}
	if s.store != nil {
		n, err := s.store.SampleCount()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
			return
		}
		body["samples"] = n
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRecords(c *gin.Context) {
	snap := s.status.Snapshot()
	out := make([]recordView, 0, len(snap))
	for _, st := range snap {
		out = append(out, viewOf(st, false))
	}
	c.JSON(http.StatusOK, gin.H{"records": out, "count": len(out)})
}

func (s *Server) handleRecordDetail(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing path parameter"})
		return
	}
	st, ok := s.status.Get(path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown record " + strconv.Quote(path)})
		return
	}
	c.JSON(http.StatusOK, viewOf(st, true))
}

func (s *Server) handleSamples(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sample storage is disabled"})
		return
	}
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing path parameter"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
			return
		}
		limit = n
	}

	rows, err := s.store.RecentSamples(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []model.SampleRow{}
	}
	c.JSON(http.StatusOK, gin.H{
		"path":      path,
		"samples":   rows,
		"row_count": len(rows),
	})
}
