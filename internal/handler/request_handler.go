package handler

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"backoffice/internal/middleware"
	"backoffice/internal/model"
	"backoffice/internal/service"
	"backoffice/internal/workflow"
	"backoffice/pkg/apperr"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// listSortColumns is the allow-list for the sort query parameter
var listSortColumns = map[string]bool{
	"code":         true,
	"title":        true,
	"status":       true,
	"total_amount": true,
	"created_at":   true,
	"updated_at":   true,
}

type RequestHandler struct {
	requestService service.RequestService
	commentService service.CommentService
	uploadDir      string
}

func NewRequestHandler(requestService service.RequestService, commentService service.CommentService, uploadDir string) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		commentService: commentService,
		uploadDir:      uploadDir,
	}
}

// RegisterRoutes binds one resource group per request variant, plus the
// cross-variant dashboard stats endpoint. All handlers are generic over the
// variant descriptor; nothing is duplicated per type.
func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/api/requests/stats", middleware.RequirePermission("requests.read"), h.DashboardStats)

	for _, variant := range workflow.Variants() {
		requestType := variant.Type
		group := router.Group("/api/" + variant.Resource)
		{
			group.GET("", middleware.RequirePermission("requests.read"), h.list(requestType))
			group.GET("/stats", middleware.RequirePermission("requests.read"), h.stats(requestType))
			group.GET("/:id", middleware.RequirePermission("requests.read"), h.get(requestType))
			group.POST("", middleware.RequirePermission("requests.write"), h.create(requestType))
			group.POST("/save", middleware.RequirePermission("requests.write"), h.saveDraft(requestType))
			group.PUT("/:id", middleware.RequirePermission("requests.write"), h.update(requestType))
			group.PATCH("/update-status/:id", middleware.RequirePermission("requests.write"), h.updateStatus(requestType))
			group.PATCH("/:id/reassign", middleware.RequirePermission("requests.write"), h.reassign(requestType))
			group.PATCH("/:id/copy", middleware.RequirePermission("requests.write"), h.share(requestType))
			group.POST("/:id/comments", middleware.RequirePermission("requests.write"), h.addComment(requestType))
			group.PATCH("/:id/comments/:commentId", middleware.RequirePermission("requests.write"), h.updateComment(requestType))
			group.DELETE("/:id/comments/:commentId", middleware.RequirePermission("requests.write"), h.deleteComment(requestType))
			group.POST("/:id/files", middleware.RequirePermission("requests.write"), h.uploadFile(requestType))
			group.DELETE("/:id", middleware.RequirePermission("requests.delete"), h.delete(requestType))

			if variant.HasDispatch {
				group.PATCH("/:id/dispatch", middleware.RequirePermission("requests.write"), h.dispatch(requestType))
			}
		}
	}
}

// actor resolves the authenticated user set by the auth middleware into the
// explicit Actor every policy call takes.
func actor(c *gin.Context) (workflow.Actor, bool) {
	userID, _ := c.Get("userID")
	userRole, _ := c.Get("userRole")

	idStr, _ := userID.(string)
	role, _ := userRole.(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "invalid user identity"))
		return workflow.Actor{}, false
	}
	return workflow.Actor{ID: id, Role: role}, true
}

func respondError(c *gin.Context, err error) {
	code := apperr.StatusCode(err)
	if fields := apperr.FieldErrors(err); fields != nil {
		c.JSON(code, response.ValidationError(code, fields))
		return
	}
	if code == http.StatusInternalServerError {
		c.JSON(code, response.Error(code, "internal server error"))
		return
	}
	c.JSON(code, response.Error(code, err.Error()))
}

func (h *RequestHandler) list(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		params := pagination.Parse(c)
		filter := service.ListRequestsFilter{
			Status: c.Query("status"),
			Search: params.Search,
			Order:  params.OrderClause(listSortColumns, "created_at DESC"),
			Page:   params.Page,
			Limit:  params.Limit,
		}

		requests, total, err := h.requestService.List(c.Request.Context(), requestType, act, filter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.List(http.StatusOK, requests, total, params.Page, params.Limit))
	}
}

func (h *RequestHandler) get(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		req, err := h.requestService.Get(c.Request.Context(), requestType, c.Param("id"), act)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) stats(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.requestService.Stats(c.Request.Context(), requestType)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
	}
}

// DashboardStats returns status counts across every request variant
func (h *RequestHandler) DashboardStats(c *gin.Context) {
	stats, err := h.requestService.DashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// create accepts either a JSON body or, when attachments are included,
// multipart/form-data with the JSON under a "payload" field and files under
// "files".
func (h *RequestHandler) create(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.CreateRequestDTO
		multipart := strings.HasPrefix(c.ContentType(), "multipart/form-data")
		if multipart {
			payload := c.PostForm("payload")
			if payload == "" || json.Unmarshal([]byte(payload), &dto) != nil {
				c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid multipart payload"))
				return
			}
		} else if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.Create(c.Request.Context(), requestType, act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		if multipart {
			if req, err = h.storeUploads(c, requestType, req.ID.String(), act); err != nil {
				respondError(c, err)
				return
			}
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, req))
	}
}

// saveDraft creates a new draft, or updates an existing one when the body
// carries an id.
func (h *RequestHandler) saveDraft(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var body struct {
			ID string `json:"id"`
			service.CreateRequestDTO
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
		body.Submit = false

		var req *model.Request
		var err error
		if body.ID != "" {
			items := body.LineItems
			req, err = h.requestService.Update(c.Request.Context(), requestType, body.ID, act, service.UpdateRequestDTO{
				Title:            body.Title,
				Description:      body.Description,
				Department:       body.Department,
				ExpenseChargedTo: body.ExpenseChargedTo,
				AccountCode:      body.AccountCode,
				GrossAmount:      body.GrossAmount,
				StartDate:        body.StartDate,
				EndDate:          body.EndDate,
				LineItems:        &items,
			})
		} else {
			req, err = h.requestService.Create(c.Request.Context(), requestType, act, body.CreateRequestDTO)
		}
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) update(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.UpdateRequestDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.Update(c.Request.Context(), requestType, c.Param("id"), act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) updateStatus(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.UpdateStatusDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.UpdateStatus(c.Request.Context(), requestType, c.Param("id"), act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) dispatch(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto struct {
			DispatchStatus string `json:"dispatch_status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.Dispatch(c.Request.Context(), requestType, c.Param("id"), act, dto.DispatchStatus)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) reassign(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.ReassignDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.Reassign(c.Request.Context(), requestType, c.Param("id"), act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) share(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.ShareRequestDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		req, err := h.requestService.Share(c.Request.Context(), requestType, c.Param("id"), act, dto.UserIDs)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
	}
}

func (h *RequestHandler) delete(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		if err := h.requestService.Delete(c.Request.Context(), requestType, c.Param("id"), act); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, "Request deleted successfully"))
	}
}

func (h *RequestHandler) addComment(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.AddCommentDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		comment, err := h.commentService.Add(c.Request.Context(), requestType, c.Param("id"), act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, comment))
	}
}

func (h *RequestHandler) updateComment(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		var dto service.UpdateCommentDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}

		comment, err := h.commentService.Update(c.Request.Context(), requestType, c.Param("id"), c.Param("commentId"), act, dto)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, comment))
	}
}

func (h *RequestHandler) deleteComment(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		if err := h.commentService.Delete(c.Request.Context(), requestType, c.Param("id"), c.Param("commentId"), act); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, response.Success(http.StatusOK, "Comment deleted successfully"))
	}
}

func (h *RequestHandler) uploadFile(requestType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		act, ok := actor(c)
		if !ok {
			return
		}

		req, err := h.storeUploads(c, requestType, c.Param("id"), act)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, response.Success(http.StatusCreated, req))
	}
}

// storeUploads writes every multipart file to the upload directory and
// records its metadata against the request.
func (h *RequestHandler) storeUploads(c *gin.Context, requestType, id string, act workflow.Actor) (*model.Request, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Validationf("files", "invalid multipart form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return nil, apperr.Validationf("files", "no files in upload")
	}

	var req *model.Request
	for _, fh := range files {
		stored := uuid.NewString() + "_" + filepath.Base(fh.Filename)
		path := filepath.Join(h.uploadDir, stored)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			return nil, apperr.Internal("failed to store upload", err)
		}

		attachment := &model.Attachment{
			FileName:    fh.Filename,
			StoragePath: path,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
		}
		req, err = h.requestService.AttachFile(c.Request.Context(), requestType, id, act, attachment)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}
