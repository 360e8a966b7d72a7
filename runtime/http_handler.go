package runtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ValidatePath = "/v1/workunits/validate"
	HealthPath   = "/healthz"
)

// NewHTTPHandler registers the work unit endpoints of app on g. Fatal
// outcomes abort the server process like any other host.
func NewHTTPHandler(app *App, g *gin.Engine) {
	g.GET(HealthPath, handleHealth(app))
	g.POST(ValidatePath, handleValidate(app.Executor, app.Logger))
}

func handleHealth(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := app.Bridge.Pool().Stats()
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"engine": app.Runtime.Name(),
			"contexts": gin.H{
				"allocated": stats.Allocated,
				"released":  stats.Released,
				"live":      stats.Live,
			},
		})
	}
}

func handleValidate(executor *Executor, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var wu Workunit
		if err := c.ShouldBindJSON(&wu); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"message": "Invalid workunit: " + err.Error(),
			})
			return
		}
		if err := wu.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"message": err.Error(),
			})
			return
		}

		// A client going away must not cancel script calls: the runtime
		// reports that as a script error, which is fatal.
		ctx := context.WithoutCancel(c.Request.Context())
		report := executor.Run(ctx, wu)

		canonical := report.Canonical()
		logger.InfoContext(ctx, "Workunit request served",
			"workunit", wu.ID,
			"path", c.Request.URL.Path,
			"canonical", canonical)

		c.JSON(http.StatusOK, gin.H{
			"report":    report,
			"canonical": canonical,
		})
	}
}
