package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/gate"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/interview"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/recording"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/session"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/summary"
	"github.com/rahulwaghole14/aiinterviewerbackend-sub002/internal/transcript"
)

// maxChunkBytes bounds one uploaded recording chunk.
const maxChunkBytes = 32 << 20

// maxFrameBytes bounds one uploaded webcam frame.
const maxFrameBytes = 4 << 20

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Candidates join from arbitrary origins; the link token is the
		// access control, not the Origin header.
		return true
	},
}

type Handlers struct {
	Store       session.Store
	Hub         *session.Hub
	Gate        *gate.Gate
	TokenSecret []byte
	Manager     *interview.Manager
	Assembler   *recording.Assembler
	Aggregator  *summary.Aggregator
	Dialer      transcript.ProviderDialer
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/sessions", h.createSession)
	e.GET("/sessions/entry", h.entry)
	e.POST("/sessions/:id/start", h.start)
	e.POST("/sessions/:id/playback-done", h.playbackDone)
	e.GET("/sessions/:id/stream", h.answerStream)
	e.POST("/sessions/:id/chunks", h.uploadChunk)
	e.POST("/sessions/:id/frames", h.uploadFrame)
	e.GET("/sessions/:id/events", h.events)
	e.POST("/sessions/:id/abandon", h.abandon)
	e.GET("/sessions/:id/summary", h.sessionSummary)
}

type createSessionRequest struct {
	CandidateID  string    `json:"candidateId"`
	CandidateRef string    `json:"candidateRef"`
	JobTitle     string    `json:"jobTitle"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	MaxQuestions int       `json:"maxQuestions"`
}

type createSessionResponse struct {
	Session session.InterviewSession `json:"session"`
	Token   string                   `json:"token"`
}

// createSession issues a new scheduled interview and its signed link
// token. Called by the recruiting backend, not by candidates.
func (h Handlers) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.CandidateID == "" || req.ScheduledAt.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "candidateId and scheduledAt are required"})
	}

	s, err := h.Store.CreateSession(session.InterviewSession{
		CandidateID:  req.CandidateID,
		CandidateRef: req.CandidateRef,
		JobTitle:     req.JobTitle,
		ScheduledAt:  req.ScheduledAt,
		MaxQuestions: req.MaxQuestions,
	})
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	token, err := gate.IssueToken(h.TokenSecret, s.ID, s.ScheduledAt)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue session token"})
	}
	return c.JSON(http.StatusCreated, createSessionResponse{Session: s, Token: token})
}

type entryResponse struct {
	State            gate.State                `json:"state"`
	CountdownSeconds int64                     `json:"countdownSeconds,omitempty"`
	Session          *session.InterviewSession `json:"session,omitempty"`
}

// entry is the candidate's landing call: it resolves the link token and
// runs the access window check. Too-early links get a countdown, late
// links are gone for good.
func (h Handlers) entry(c echo.Context) error {
	sid, err := gate.VerifyToken(h.TokenSecret, bearerToken(c))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}
	d, err := h.Gate.Admit(h.Store, sid)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	resp := entryResponse{State: d.State, CountdownSeconds: int64(d.Countdown.Seconds())}
	switch d.State {
	case gate.StateActive:
		s, _ := h.Store.GetSession(sid)
		resp.Session = &s
		return c.JSON(http.StatusOK, resp)
	case gate.StateExpired:
		return c.JSON(http.StatusGone, resp)
	default:
		return c.JSON(http.StatusForbidden, resp)
	}
}

// start launches the interview loop. Idempotent: reloading the page and
// calling start again attaches to the already running session.
func (h Handlers) start(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	d, err := h.Gate.Admit(h.Store, sid)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	if d.State != gate.StateActive {
		status := http.StatusForbidden
		if d.State == gate.StateExpired {
			status = http.StatusGone
		}
		return c.JSON(status, entryResponse{State: d.State, CountdownSeconds: int64(d.Countdown.Seconds())})
	}
	if err := h.Manager.StartSession(sid); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"started": true})
}

func (h Handlers) playbackDone(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	ctrl, err := h.Manager.Controller(sid)
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	ctrl.PlaybackFinished()
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// answerStream is the per-turn transcription websocket. The client
// sends a control object first, then binary audio frames; transcript
// events stream back until the turn finalizes.
func (h Handlers) answerStream(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	ctrl, err := h.Manager.Controller(sid)
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	st, err := ctrl.BeginAnswerStream()
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		ctrl.EndAnswerStream()
		return nil
	}
	defer ctrl.EndAnswerStream()

	bridge := transcript.NewBridge(h.Dialer, st)
	if rerr := bridge.Run(c.Request().Context(), conn); rerr != nil {
		if errors.Is(rerr, transcript.ErrStreamDisconnect) {
			// Unrecoverable provider loss ends the turn on whatever
			// partial transcript we have.
			ctrl.StreamFailed(rerr)
		}
		log.Printf("[%s] answer stream closed: %v", sid, rerr)
	}
	return nil
}

// uploadChunk accepts one recording chunk. Chunks may arrive in any
// order and may be retried; the response only acknowledges receipt.
func (h Handlers) uploadChunk(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.QueryParam("index"))
	if err != nil || index < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "index query parameter must be a non-negative integer"})
	}
	durationMs, _ := strconv.ParseInt(c.QueryParam("durationMs"), 10, 64)
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxChunkBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read chunk body"})
	}
	if len(payload) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty chunk"})
	}

	chunk := recording.Chunk{
		SessionID:  sid,
		Track:      recording.Track(c.QueryParam("track")),
		Index:      index,
		Payload:    payload,
		DurationMs: durationMs,
		IsFinal:    c.QueryParam("final") == "true",
	}
	if err := h.Assembler.SubmitChunk(c.Request().Context(), chunk); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"received": true, "index": index})
}

// uploadFrame stores the latest webcam frame for proctoring checks.
func (h Handlers) uploadFrame(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	frames, err := h.Manager.Frames(sid)
	if err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	frame, err := io.ReadAll(io.LimitReader(c.Request().Body, maxFrameBytes))
	if err != nil || len(frame) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty frame"})
	}
	frames.Put(frame)
	return c.JSON(http.StatusAccepted, echo.Map{"received": true})
}

// events streams session lifecycle events over a websocket so the
// client never polls for progress.
func (h Handlers) events(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		// Detect client disconnect; inbound payloads are ignored.
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range h.Hub.Subscribe(ctx, sid) {
		if werr := conn.WriteJSON(ev); werr != nil {
			return nil
		}
	}
	return nil
}

// abandon ends the session early, salvaging the partial transcript and
// recording.
func (h Handlers) abandon(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	h.Manager.Abandon(sid)
	return c.JSON(http.StatusOK, echo.Map{"abandoned": true})
}

func (h Handlers) sessionSummary(c echo.Context) error {
	sid, err := h.authSession(c)
	if err != nil {
		return err
	}
	sum, err := h.Aggregator.Build(c.Request().Context(), sid)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sum)
}

// authSession verifies the link token and requires it to match the
// session in the path.
func (h Handlers) authSession(c echo.Context) (string, error) {
	sid, err := gate.VerifyToken(h.TokenSecret, bearerToken(c))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if sid != c.Param("id") {
		return "", echo.NewHTTPError(http.StatusForbidden, "token does not match session")
	}
	return sid, nil
}

// bearerToken pulls the link token from the Authorization header or the
// token query parameter; websocket clients can only use the latter.
func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}
