package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/party-room-system/internal/roomapi"
	"github.com/party-room-system/pkg/jwt"
	pkglog "github.com/party-room-system/pkg/log"
	"github.com/party-room-system/pkg/models"
)

type Handler struct {
	service     *Service
	frontendURL string
	log         zerolog.Logger
}

func NewHandler(service *Service, frontendURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		frontendURL: frontendURL,
		log:         logger.With().Str("component", "http").Logger(),
	}
}

// NewRouter assembles the service router with CORS, request logging and a
// health probe.
func NewRouter(h *Handler, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:8090"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)
		auth.GET("/exchange", h.exchange)
		auth.GET("/me", h.me)
		auth.GET("/status", AuthMiddleware(), h.status)
	}

	rooms := r.Group("/rooms")
	{
		rooms.POST("", h.createRoom)
		rooms.GET("/:code", h.getRoom)
		rooms.POST("/:code/join", h.join)
		rooms.GET("/:code/participants", h.participants)
		rooms.GET("/:code/state", h.state)
		rooms.POST("/:code/vote", h.vote)
		rooms.GET("/:code/random-track", h.randomTrack)
		rooms.POST("/:code/next-round", h.nextRound)
		rooms.POST("/:code/play", h.play)
		rooms.POST("/:code/pause", h.pause)
		rooms.POST("/:code/resume", h.resume)
	}
}

// statusFor maps service rejections onto HTTP statuses. Anything not in
// the taxonomy is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoCurrentTrack), errors.Is(err, ErrBadThreshold), errors.Is(err, ErrNoParticipants):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrThresholdNotMet):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func roomCode(c *gin.Context) (string, bool) {
	code := c.Param("code")
	if !roomapi.ValidRoomCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code"})
		return "", false
	}
	return roomapi.NormalizeCode(code), true
}

type createRoomRequest struct {
	HostSpotifyID string `json:"host_spotify_id" binding:"required"`
	LikeThreshold int    `json:"like_threshold"`
}

func (h *Handler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), req.HostSpotifyID, req.LikeThreshold)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) getRoom(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	room, err := h.service.GetRoomByCode(c.Request.Context(), code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type joinRequest struct {
	SpotifyID string `json:"spotify_id" binding:"required"`
}

func (h *Handler) join(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ack, err := h.service.Join(c.Request.Context(), code, req.SpotifyID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *Handler) participants(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	list, err := h.service.Participants(c.Request.Context(), code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) state(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	state, err := h.service.State(c.Request.Context(), code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type voteBody struct {
	SpotifyID string `json:"spotify_id" binding:"required"`
	IsLike    bool   `json:"is_like"`
}

func (h *Handler) vote(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	var req voteBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ack, err := h.service.Vote(c.Request.Context(), code, req.SpotifyID, req.IsLike)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *Handler) randomTrack(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	sel, err := h.service.RandomTrack(c.Request.Context(), code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sel)
}

func (h *Handler) nextRound(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	sel, err := h.service.NextRound(c.Request.Context(), code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sel)
}

type playbackBody struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (h *Handler) play(c *gin.Context)   { h.playback(c, h.service.Play) }
func (h *Handler) pause(c *gin.Context)  { h.playback(c, h.service.Pause) }
func (h *Handler) resume(c *gin.Context) { h.playback(c, h.service.Resume) }

func (h *Handler) playback(c *gin.Context, call func(ctx context.Context, code, deviceID string) (*models.PlaybackAck, error)) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	var req playbackBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ack, err := call(c.Request.Context(), code, req.DeviceID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *Handler) login(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": h.service.LoginURL()})
}

func (h *Handler) callback(c *gin.Context) {
	authCode := c.Query("code")
	if authCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	user, err := h.service.Authenticate(c.Request.Context(), authCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := jwt.GenerateToken(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate session token"})
		return
	}
	c.SetCookie("auth_token", token, 7*24*60*60, "/", "", false, true)

	if h.frontendURL == "" {
		c.JSON(http.StatusOK, user)
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL+"?spotify_id="+user.SpotifyID)
}

// exchange is the JSON variant of callback for clients that perform the
// redirect dance themselves and just need the code traded for a record.
func (h *Handler) exchange(c *gin.Context) {
	authCode := c.Query("code")
	if authCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	user, err := h.service.Authenticate(c.Request.Context(), authCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) me(c *gin.Context) {
	spotifyID := c.Query("spotify_id")
	if spotifyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spotify_id is required"})
		return
	}

	user, err := h.service.Me(c.Request.Context(), spotifyID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user_id": c.GetString("user_id")})
}
