// Package api serves the HTTP control surface of a running session. Every
// handler that touches the scheduler runs on the host loop.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/gin-gonic/gin"

	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/export"
	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/session"
)

// Runner executes functions on the goroutine that owns the scheduler.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Server exposes a session over HTTP.
type Server struct {
	sess *session.Session
	loop Runner
	log  *slog.Logger
}

// New returns a Server for sess. Mutations go through loop.
func New(sess *session.Session, loop Runner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{sess: sess, loop: loop, log: log}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.POST("/transport/start", s.startTransport)
		v1.POST("/transport/stop", s.stopTransport)
		v1.PUT("/tempo", s.putTempo)
		v1.PUT("/multiplier", s.putMultiplier)
		v1.GET("/channels", s.listChannels)
		v1.PUT("/channels/:id/params/:param", s.putParam)
		v1.PUT("/channels/:id/steps/:step", s.putStep)
		v1.GET("/diagnostics/last", s.lastBar)
		v1.GET("/pattern.mid", s.exportPattern)
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "lookahead",
	})
}

// fail writes err with a status derived from its tag.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch ftag.Get(err) {
	case ftag.InvalidArgument:
		status = http.StatusBadRequest
	case ftag.NotFound:
		status = http.StatusNotFound
	}
	msg := fmsg.GetIssue(err)
	if msg == "" {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// run executes fn on the host loop and reports loop failures.
func (s *Server) run(c *gin.Context, fn func()) bool {
	if err := s.loop.Do(c.Request.Context(), fn); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "host loop unavailable"})
		return false
	}
	return true
}

type statusResponse struct {
	Running        bool       `json:"running"`
	BPM            float64    `json:"bpm"`
	Multiplier     int        `json:"multiplier"`
	SecondsPerStep float64    `json:"seconds_per_step"`
	AudioTime      float64    `json:"audio_time"`
	SessionStart   float64    `json:"session_start"`
	NextStepTime   float64    `json:"next_step_time"`
	CurrentStep    int        `json:"current_step"`
	AbsoluteStep   int        `json:"absolute_step"`
	DisplayStep    int        `json:"display_step"`
	PatternLength  int        `json:"pattern_length"`
	Sequence       int        `json:"sequence"`
	LookAhead      float64    `json:"look_ahead"`
	ScheduleAhead  float64    `json:"schedule_ahead"`
	ActiveEvents   int        `json:"active_events"`
	Emitted        int64      `json:"emitted"`
	Skipped        int64      `json:"skipped"`
	Failed         int64      `json:"failed"`
	LastBar        *barResult `json:"last_bar,omitempty"`
}

type barResult struct {
	Bar          int          `json:"bar"`
	Measured     int          `json:"measured"`
	Pending      int          `json:"pending"`
	MeanAbsDrift float64      `json:"mean_abs_drift"`
	MaxAbsDrift  float64      `json:"max_abs_drift"`
	Steps        []stepResult `json:"steps,omitempty"`
}

type stepResult struct {
	Step      int     `json:"step"`
	Scheduled float64 `json:"scheduled"`
	End       float64 `json:"end,omitempty"`
	Drift     float64 `json:"drift"`
	Pending   bool    `json:"pending,omitempty"`
}

func newBarResult(rep diag.BarReport, steps bool) *barResult {
	out := &barResult{
		Bar:          rep.Bar,
		Measured:     rep.Measured,
		Pending:      rep.Pending,
		MeanAbsDrift: rep.MeanAbsDrift,
		MaxAbsDrift:  rep.MaxAbsDrift,
	}
	if steps {
		for _, sr := range rep.Steps {
			out.Steps = append(out.Steps, stepResult{
				Step:      sr.Step,
				Scheduled: sr.Scheduled,
				End:       sr.End,
				Drift:     sr.Drift,
				Pending:   sr.Pending,
			})
		}
	}
	return out
}

func (s *Server) getStatus(c *gin.Context) {
	var st session.Status
	if !s.run(c, func() { st = s.sess.Status() }) {
		return
	}

	resp := statusResponse{
		Running:        st.Timing.Running,
		BPM:            st.Timing.BPM,
		Multiplier:     st.Timing.Multiplier,
		SecondsPerStep: st.Timing.SecondsPerStep,
		AudioTime:      st.AudioTime,
		SessionStart:   st.Timing.SessionStart,
		NextStepTime:   st.Timing.NextStepTime,
		CurrentStep:    st.Timing.CurrentStep,
		AbsoluteStep:   st.Timing.AbsoluteStep,
		DisplayStep:    st.DisplayStep,
		PatternLength:  st.Timing.PatternLength,
		Sequence:       st.Sequence,
		LookAhead:      st.Timing.LookAhead,
		ScheduleAhead:  st.Timing.ScheduleAhead,
		ActiveEvents:   st.Active,
		Emitted:        st.Stats.Emitted,
		Skipped:        st.Stats.Skipped,
		Failed:         st.Stats.Failed,
	}
	if st.LastBar != nil {
		resp.LastBar = newBarResult(*st.LastBar, false)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startTransport(c *gin.Context) {
	var err error
	if !s.run(c, func() { err = s.sess.Scheduler.Start() }) {
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopTransport(c *gin.Context) {
	if !s.run(c, s.sess.Scheduler.Stop) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": false})
}

type tempoRequest struct {
	BPM *float64 `json:"bpm" binding:"required"`
}

func (s *Server) putTempo(c *gin.Context) {
	var req tempoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var err error
	ok := s.run(c, func() {
		if err = s.sess.Scheduler.SetTempo(*req.BPM); err == nil {
			s.sess.Store.SetBPM(*req.BPM)
		}
	})
	if !ok {
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bpm": *req.BPM})
}

type multiplierRequest struct {
	Multiplier *int `json:"multiplier" binding:"required"`
}

func (s *Server) putMultiplier(c *gin.Context) {
	var req multiplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var err error
	ok := s.run(c, func() {
		if err = s.sess.Scheduler.SetScheduleMultiplier(*req.Multiplier); err == nil {
			s.sess.Store.SetMultiplier(*req.Multiplier)
		}
	})
	if !ok {
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"multiplier": *req.Multiplier})
}

type channelResponse struct {
	ID     int                `json:"id"`
	Name   string             `json:"name"`
	Steps  string             `json:"steps"`
	Params map[string]float64 `json:"params"`
	Active bool               `json:"active"`
}

func (s *Server) listChannels(c *gin.Context) {
	snap := s.sess.Store.Snapshot()
	out := make([]channelResponse, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		params := make(map[string]float64)
		for _, spec := range pattern.Params() {
			params[spec.Name] = ch.Get(spec.Param)
		}
		_, active := s.sess.Store.Active(ch.ID)
		out = append(out, channelResponse{
			ID:     ch.ID,
			Name:   ch.Name,
			Steps:  pattern.FormatSteps(ch.Steps),
			Params: params,
			Active: active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		badRequest(c, fmt.Errorf("%s must be an integer", name))
		return 0, false
	}
	return v, true
}

type valueRequest struct {
	Value *float64 `json:"value" binding:"required"`
}

func (s *Server) putParam(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	p, found := pattern.LookupParam(c.Param("param"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown parameter %q", c.Param("param"))})
		return
	}
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var err error
	if !s.run(c, func() { err = s.sess.Store.SetParam(id, p, *req.Value) }) {
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	ch, _ := s.sess.Store.Channel(id)
	c.JSON(http.StatusOK, gin.H{"channel": id, "param": p.String(), "value": ch.Get(p)})
}

type levelRequest struct {
	Level *float64 `json:"level" binding:"required"`
}

func (s *Server) putStep(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	step, ok := pathInt(c, "step")
	if !ok {
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var err error
	if !s.run(c, func() { err = s.sess.Store.SetStep(id, step, *req.Level) }) {
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": id, "step": step, "level": max(*req.Level, 0)})
}

func (s *Server) lastBar(c *gin.Context) {
	if s.sess.Recorder == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "diagnostics disabled"})
		return
	}
	rep, ok := s.sess.Recorder.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bar analysed yet"})
		return
	}
	c.JSON(http.StatusOK, newBarResult(rep, true))
}

func (s *Server) exportPattern(c *gin.Context) {
	bars, err := strconv.Atoi(c.DefaultQuery("bars", "1"))
	if err != nil || bars < 1 {
		badRequest(c, fmt.Errorf("bars must be a positive integer"))
		return
	}
	c.Header("Content-Type", "audio/midi")
	c.Header("Content-Disposition", `attachment; filename="pattern.mid"`)
	opts := export.Options{Bars: bars, MIDIChannel: s.midiChannel}
	if err := export.Write(c.Writer, s.sess.Store.Snapshot(), opts); err != nil {
		fail(c, err)
	}
}

// midiChannel maps a channel to the zero-based MIDI channel it is
// configured with.
func (s *Server) midiChannel(ch pattern.Channel) uint8 {
	if ch.ID >= 0 && ch.ID < len(s.sess.Config.Channels) {
		return uint8(s.sess.Config.Channels[ch.ID].MIDIChannel - 1)
	}
	return uint8(ch.ID % 16)
}
