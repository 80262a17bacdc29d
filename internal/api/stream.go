package api

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"backtest-lab/internal/domain"
)

const writeTimeout = 10 * time.Second

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return checkOrigin(r, allowed) },
	}
}

// checkOrigin accepts clients that send no Origin (non-browser), same-origin
// pages and the configured origins.
func checkOrigin(r *http.Request, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if allowed[strings.ToLower(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleStream pushes the job view whenever it changes and closes the
// stream once the job is terminal.
func (s *Server) handleStream(c *gin.Context) {
	job, ok := s.lookup(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read loop handles control frames and notices a closed client
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last *JobView
	for {
		view := s.liveView(job)
		view.Spec = nil
		if last == nil || !reflect.DeepEqual(*last, view) {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(view); err != nil {
				return
			}
			last = &view
		}
		if job.Status.IsTerminal() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := s.coord.Get(ctx, job.ID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("stream job lookup failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			return
		}
		job = next
	}
}

// liveView prefers in-process progress over the last heartbeat's.
func (s *Server) liveView(job *domain.OptimizationJob) JobView {
	view := NewJobView(job)
	if s.control != nil && job.Status == domain.JobStatusRunning {
		if p, ok := s.control.Progress(job.ID); ok {
			view.Progress = &p
			view.Fraction = p.Fraction()
		}
	}
	return view
}
