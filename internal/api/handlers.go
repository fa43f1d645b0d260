package api

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scribeserver/internal/artifact"
	"scribeserver/internal/auth"
	"scribeserver/internal/metrics"
	"scribeserver/internal/models"
	"scribeserver/internal/service/account"
	"scribeserver/internal/service/pipeline"
	"scribeserver/internal/worker"
)

const (
	defaultMaxUploadBytes = 100 << 20
	multipartMemory       = 32 << 20
)

// uploadFields are the multipart field names accepted for the audio file, in order.
var uploadFields = []string{"audio", "file"}

// Runner executes a job on behalf of an owner.
type Runner interface {
	Submit(ctx context.Context, owner string, fn func(context.Context) error) error
}

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Auth           *auth.Service
	Accounts       *account.Service
	Artifacts      *artifact.Store
	Intake         *pipeline.Intake
	Pipeline       *pipeline.Pipeline
	Workers        Runner
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Handler wires HTTP routes to the upload pipeline and the artifact tree.
type Handler struct {
	auth           *auth.Service
	accounts       *account.Service
	artifacts      *artifact.Store
	intake         *pipeline.Intake
	pipeline       *pipeline.Pipeline
	workers        Runner
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	maxUploadBytes int64
	corsOrigins    []string
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		auth:           d.Auth,
		accounts:       d.Accounts,
		artifacts:      d.Artifacts,
		intake:         d.Intake,
		pipeline:       d.Pipeline,
		workers:        d.Workers,
		metrics:        d.Metrics,
		logger:         d.Logger.With().Str("component", "api").Logger(),
		maxUploadBytes: d.MaxUploadBytes,
		corsOrigins:    d.CORSOrigins,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(gin.Recovery(), accessLog(h.logger, h.metrics), cors(h.corsOrigins))

	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	authRoutes := router.Group("/auth")
	authRoutes.POST("/register", h.register)
	authRoutes.POST("/login", h.login)

	authMW := h.auth.Middleware()
	router.POST("/upload", authMW, h.upload)
	router.GET("/uploads/:email", authMW, requirePathEmail("email"), h.listArtifacts)
	router.GET("/download/:mail/:dir/:file", authMW, requirePathEmail("mail"), h.download)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidEmail), errors.Is(err, account.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, account.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			h.logger.Error().Err(err).Msg("register failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":    user.ID,
		"email": user.Email,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.logger.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.logger.Error().Err(err).Msg("issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

func (h *Handler) authorizedUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return user, true
}

func (h *Handler) upload(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveUpload("too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		h.failUpload(c, &pipeline.Error{Kind: pipeline.KindNoFile, Err: err})
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	u, err := h.intake.Accept(formFile(c.Request.MultipartForm), user.Email, c.PostForm("language"))
	if err != nil {
		h.failUpload(c, err)
		return
	}
	defer h.intake.Cleanup(u)

	var result *pipeline.Result
	err = h.workers.Submit(c.Request.Context(), user.Email, func(ctx context.Context) error {
		res, err := h.pipeline.Run(ctx, u)
		result = res
		return err
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) || errors.Is(err, worker.ErrDispatcherStopped) {
			h.metrics.ObserveUpload("busy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is busy, please retry"})
			return
		}
		h.failUpload(c, err)
		return
	}
	h.metrics.ObserveUpload("success")
	c.JSON(http.StatusOK, gin.H{"transcription": result.Translation})
}

func (h *Handler) failUpload(c *gin.Context, err error) {
	kind := pipeline.KindOf(err)
	if kind == "" {
		kind = pipeline.KindArtifactWrite
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = pipeline.KindCanceled
		}
	}
	h.metrics.ObserveUpload(string(kind))
	h.logger.Error().Err(err).Str("kind", string(kind)).Msg("upload failed")
	c.JSON(kind.Status(), gin.H{"error": kind.Message()})
}

func formFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, name := range uploadFields {
		if files := form.File[name]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func (h *Handler) listArtifacts(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	entries, err := h.artifacts.List(user.Email)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "No files found for this user"})
		case errors.Is(err, artifact.ErrOutsideRoot), errors.Is(err, artifact.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		default:
			h.logger.Error().Err(err).Str("email", user.Email).Msg("list artifacts failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error reading directory"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": entries})
}

func (h *Handler) download(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	name := c.Param("file")
	f, info, err := h.artifacts.Open(user.Email, c.Param("dir"), name)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrNotFound):
			c.String(http.StatusNotFound, "File not found")
		case errors.Is(err, artifact.ErrOutsideRoot), errors.Is(err, artifact.ErrInvalidName):
			c.String(http.StatusBadRequest, "invalid path")
		default:
			h.logger.Error().Err(err).Msg("open artifact failed")
			c.String(http.StatusInternalServerError, "Error downloading file")
		}
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
