package main

import (
	"errors"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medreport/models"
	"medreport/pkg/lifecycle"
	"medreport/pkg/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// package-level wiring set once in main before the router starts
var (
	gdb        *gorm.DB
	svc        *ReportService
	fileStore  storage.Store
	jwtSecret  []byte
	corsOrigin string
)

func setupRoutes(r *gin.Engine) {
	origin := corsOrigin
	if origin == "" {
		origin = "http://localhost:3000"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{origin},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.POST("/auth/signup", signupHandler)
	r.POST("/auth/login", loginHandler)
	r.GET("/health", healthHandler)
	r.GET("/uploads/*name", serveUploadHandler)

	authGroup := r.Group("/reports")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("", listReportsHandler)
	authGroup.GET("/:id", getReportHandler)
	authGroup.POST("", createReportHandler)
	authGroup.PATCH("/:id/status", updateStatusHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route " + c.Request.Method + " " + c.Request.URL.Path + " not found"})
	})
}

// jwtAuthMiddleware is the access guard: every /reports handler runs only
// after a bearer token resolves to a user id. Failure aborts before any
// side effect.
func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(float64)
		if sub <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		c.Set("user_id", uint(sub))
		c.Next()
	}
}

// userFromContext fetches the authenticated user using the id set by
// jwtAuthMiddleware.
func userFromContext(c *gin.Context) (models.User, bool) {
	idVal, ok := c.Get("user_id")
	if !ok {
		return models.User{}, false
	}
	var user models.User
	if err := gdb.First(&user, idVal.(uint)).Error; err != nil {
		return models.User{}, false
	}
	return user, true
}

func mintToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   float64(user.ID),
		"email": user.Email,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func signupHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := RegisterUser(gdb, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := mintToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tokenString, "user": user})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(gdb, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := mintToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "user": user})
}

func healthHandler(c *gin.Context) {
	if err := pingDB(gdb); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "timestamp": time.Now().UTC().Format(time.RFC3339)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func listReportsHandler(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	reports, err := svc.ListReports(user)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func getReportHandler(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrReportNotFound.Error()})
		return
	}
	report, err := svc.GetReport(user, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// createReportHandler accepts the multipart upload (name, type, file) and
// delegates to the service. Validation failures surface before any byte is
// written to storage.
func createReportHandler(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	name := c.PostForm("name")
	reportType := c.PostForm("type")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	report, err := svc.CreateReport(c.Request.Context(), user, name, reportType, fileHeader.Filename, fileHeader.Size, f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Report uploaded successfully", "report": report})
}

func updateStatusHandler(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrReportNotFound.Error()})
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	report, err := svc.UpdateStatus(user, id, req.Status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Status updated successfully", "report": report})
}

// serveUploadHandler streams a stored artifact; works for both the local
// and the S3 backend.
func serveUploadHandler(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" || strings.Contains(name, "..") {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	rc, err := fileStore.Open(c.Request.Context(), storage.PublicPrefix+"/"+name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	defer rc.Close()
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, ct, rc, nil)
}

func parseID(raw string) (uint, bool) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// writeServiceError maps service errors onto the response taxonomy:
// validation 400, illegal transition 400 with the legal next states,
// not found 404, lost CAS race 409, everything else a logged generic 500.
func writeServiceError(c *gin.Context, err error) {
	var ve *ValidationError
	var inv *lifecycle.InvalidStatusError
	var ill *lifecycle.IllegalTransitionError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &inv):
		c.JSON(http.StatusBadRequest, gin.H{"error": inv.Error()})
	case errors.As(err, &ill):
		legal := make([]string, len(ill.Legal))
		for i, s := range ill.Legal {
			legal[i] = string(s)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": ill.Error(), "legal_next": legal})
	case errors.Is(err, ErrReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
