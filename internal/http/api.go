package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aria2bot/internal/aria2"
	"aria2bot/internal/cloud"
	"aria2bot/internal/domain"
	"aria2bot/internal/monitor"
	"aria2bot/internal/repository"
	"aria2bot/internal/service"
)

// Handler wires HTTP routes to the download, upload and service layers.
// Monitors started by requests run on rootCtx so they outlive the request.
type Handler struct {
	rootCtx     context.Context
	rpc         *aria2.Client
	supervisor  *aria2.Supervisor
	coordinator *cloud.Coordinator
	watcher     *monitor.Watcher
	refresher   *monitor.Refresher
	settings    service.SettingsService
	auth        *AuthHandler
	logPath     string
}

func NewHandler(
	rootCtx context.Context,
	rpc *aria2.Client,
	supervisor *aria2.Supervisor,
	coordinator *cloud.Coordinator,
	watcher *monitor.Watcher,
	refresher *monitor.Refresher,
	settings service.SettingsService,
	auth *AuthHandler,
	logPath string,
) *Handler {
	return &Handler{
		rootCtx:     rootCtx,
		rpc:         rpc,
		supervisor:  supervisor,
		coordinator: coordinator,
		watcher:     watcher,
		refresher:   refresher,
		settings:    settings,
		auth:        auth,
		logPath:     logPath,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/auth/register", h.auth.register)
		api.POST("/auth/login", h.auth.login)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}

	protected := api.Group("")
	protected.Use(h.auth.Middleware())
	{
		protected.POST("/downloads", h.addDownload)
		protected.POST("/downloads/torrent", h.addTorrent)
		protected.GET("/downloads", h.listDownloads)
		protected.GET("/downloads/:gid", h.getDownload)
		protected.POST("/downloads/:gid/pause", h.pauseDownload)
		protected.POST("/downloads/:gid/resume", h.resumeDownload)
		protected.DELETE("/downloads/:gid", h.deleteDownload)
		protected.POST("/downloads/:gid/watch", h.watchDownload)
		protected.POST("/downloads/:gid/upload", h.uploadDownload)
		protected.GET("/stats", h.globalStats)

		protected.POST("/service/start", h.serviceStart)
		protected.POST("/service/stop", h.serviceStop)
		protected.POST("/service/restart", h.serviceRestart)
		protected.GET("/service/status", h.serviceStatus)
		protected.GET("/service/log", h.serviceLog)

		protected.GET("/settings", h.getSettings)
		protected.PATCH("/settings/:backend", h.updateSettings)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type addDownloadRequest struct {
	URL    string `json:"url" binding:"required"`
	ChatID int64  `json:"chat_id"`
}

func (h *Handler) addDownload(c *gin.Context) {
	var req addDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := domain.ValidateDownloadURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gid, err := h.rpc.AddURI(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// Completion monitor lives past the request.
	h.watcher.Watch(h.rootCtx, gid, req.ChatID)

	c.JSON(http.StatusAccepted, gin.H{"gid": gid})
}

type addTorrentRequest struct {
	Torrent string `json:"torrent" binding:"required"` // base64-encoded .torrent payload
	ChatID  int64  `json:"chat_id"`
}

func (h *Handler) addTorrent(c *gin.Context) {
	var req addTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Torrent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "torrent payload is not valid base64"})
		return
	}

	gid, err := h.rpc.AddTorrent(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.watcher.Watch(h.rootCtx, gid, req.ChatID)

	c.JSON(http.StatusAccepted, gin.H{"gid": gid})
}

func (h *Handler) listDownloads(c *gin.Context) {
	ctx := c.Request.Context()

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "20"))
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
		return
	}

	var tasks []domain.Task
	switch state := c.DefaultQuery("state", "active"); state {
	case "active":
		tasks, err = h.rpc.TellActive(ctx)
	case "waiting":
		tasks, err = h.rpc.TellWaiting(ctx, offset, count)
	case "stopped":
		tasks, err = h.rpc.TellStopped(ctx, offset, count)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be active, waiting or stopped"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getDownload(c *gin.Context) {
	task, err := h.rpc.TellStatus(c.Request.Context(), c.Param("gid"))
	if err != nil {
		if aria2.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := taskToResponse(task)
	resp.Detail = monitor.RenderDetail(task)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) pauseDownload(c *gin.Context) {
	if err := h.rpc.Pause(c.Request.Context(), c.Param("gid")); err != nil {
		c.JSON(statusForRPC(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": c.Param("gid")})
}

func (h *Handler) resumeDownload(c *gin.Context) {
	if err := h.rpc.Unpause(c.Request.Context(), c.Param("gid")); err != nil {
		c.JSON(statusForRPC(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": c.Param("gid")})
}

// deleteDownload tries a graceful remove first, escalates to a forced remove
// and always attempts to purge the stopped-task record afterwards.
func (h *Handler) deleteDownload(c *gin.Context) {
	ctx := c.Request.Context()
	gid := c.Param("gid")

	var warnings []string
	if err := h.rpc.Remove(ctx, gid); err != nil {
		if aria2.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		warnings = append(warnings, "remove: "+err.Error())
		if err := h.rpc.ForceRemove(ctx, gid); err != nil && !aria2.IsNotFound(err) {
			warnings = append(warnings, "force remove: "+err.Error())
		}
	}

	if err := h.rpc.RemoveDownloadResult(ctx, gid); err != nil && !aria2.IsNotFound(err) {
		warnings = append(warnings, "purge result: "+err.Error())
	}

	resp := gin.H{"deleted": gid}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

type watchDownloadRequest struct {
	ChatID    int64 `json:"chat_id" binding:"required"`
	MessageID int64 `json:"message_id" binding:"required"`
}

// watchDownload binds a live detail refresher to a chat message. Re-binding
// the same message to another download supersedes the previous refresher.
func (h *Handler) watchDownload(c *gin.Context) {
	var req watchDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gid := c.Param("gid")
	if _, err := h.rpc.TellStatus(c.Request.Context(), gid); err != nil {
		c.JSON(statusForRPC(err), gin.H{"error": err.Error()})
		return
	}

	key := monitor.SurfaceKey{ChatID: req.ChatID, MessageID: req.MessageID}
	h.refresher.Start(h.rootCtx, key, gid)

	c.JSON(http.StatusAccepted, gin.H{"watching": gid})
}

type uploadDownloadRequest struct {
	Backend string `json:"backend" binding:"required"`
	ChatID  int64  `json:"chat_id"`
}

func (h *Handler) uploadDownload(c *gin.Context) {
	var req uploadDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.rpc.TellStatus(c.Request.Context(), c.Param("gid"))
	if err != nil {
		c.JSON(statusForRPC(err), gin.H{"error": err.Error()})
		return
	}

	if err := h.coordinator.ManualUpload(c.Request.Context(), req.ChatID, task, req.Backend); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"uploading": task.GID, "backend": req.Backend})
}

func (h *Handler) globalStats(c *gin.Context) {
	stats, err := h.rpc.GlobalStat(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"download_speed": stats.DownloadSpeed,
		"upload_speed":   stats.UploadSpeed,
		"num_active":     stats.NumActive,
		"num_waiting":    stats.NumWaiting,
		"num_stopped":    stats.NumStopped,
	})
}

func (h *Handler) serviceStart(c *gin.Context) {
	if err := h.supervisor.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

func (h *Handler) serviceStop(c *gin.Context) {
	if err := h.supervisor.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (h *Handler) serviceRestart(c *gin.Context) {
	if err := h.supervisor.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

func (h *Handler) serviceStatus(c *gin.Context) {
	status := h.supervisor.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"installed": status.Installed,
		"running":   status.Running,
		"pid":       status.PID,
		"enabled":   status.Enabled,
	})
}

func (h *Handler) serviceLog(c *gin.Context) {
	lines, err := strconv.Atoi(c.DefaultQuery("lines", "50"))
	if err != nil || lines <= 0 || lines > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lines"})
		return
	}
	content, err := h.supervisor.TailLog(h.logPath, lines)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": content})
}

func (h *Handler) getSettings(c *gin.Context) {
	snapshot := h.settings.Snapshot()
	resp := make(map[string]BackendSettingsResponse, len(snapshot))
	for name, s := range snapshot {
		resp[name] = settingsToResponse(s)
	}
	c.JSON(http.StatusOK, resp)
}

type updateSettingsRequest struct {
	Enabled           *bool   `json:"enabled"`
	AutoUpload        *bool   `json:"auto_upload"`
	DeleteAfterUpload *bool   `json:"delete_after_upload"`
	Destination       *string `json:"destination"`
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.settings.Update(c.Request.Context(), c.Param("backend"), func(s *repository.BackendSettings) {
		if req.Enabled != nil {
			s.Enabled = *req.Enabled
		}
		if req.AutoUpload != nil {
			s.AutoUpload = *req.AutoUpload
		}
		if req.DeleteAfterUpload != nil {
			s.DeleteAfterUpload = *req.DeleteAfterUpload
		}
		if req.Destination != nil {
			s.Destination = *req.Destination
		}
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settingsToResponse(updated))
}

type TaskResponse struct {
	GID             string            `json:"gid"`
	Name            string            `json:"name"`
	Status          domain.TaskStatus `json:"status"`
	Progress        float64           `json:"progress"`
	TotalLength     int64             `json:"total_length"`
	CompletedLength int64             `json:"completed_length"`
	DownloadSpeed   int64             `json:"download_speed"`
	UploadSpeed     int64             `json:"upload_speed"`
	Size            string            `json:"size"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Detail          string            `json:"detail,omitempty"`
}

func taskToResponse(task domain.Task) TaskResponse {
	return TaskResponse{
		GID:             task.GID,
		Name:            task.Name,
		Status:          task.Status,
		Progress:        task.Progress(),
		TotalLength:     task.TotalLength,
		CompletedLength: task.CompletedLength,
		DownloadSpeed:   task.DownloadSpeed,
		UploadSpeed:     task.UploadSpeed,
		Size:            task.SizeString(),
		ErrorMessage:    task.ErrorMessage,
	}
}

type BackendSettingsResponse struct {
	Name              string `json:"name"`
	Enabled           bool   `json:"enabled"`
	AutoUpload        bool   `json:"auto_upload"`
	DeleteAfterUpload bool   `json:"delete_after_upload"`
	Destination       string `json:"destination,omitempty"`
}

func settingsToResponse(s repository.BackendSettings) BackendSettingsResponse {
	return BackendSettingsResponse{
		Name:              s.Name,
		Enabled:           s.Enabled,
		AutoUpload:        s.AutoUpload,
		DeleteAfterUpload: s.DeleteAfterUpload,
		Destination:       s.Destination,
	}
}

func statusForRPC(err error) int {
	if aria2.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
