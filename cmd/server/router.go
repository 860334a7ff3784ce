// List of the endpoints served by the Beacon gateway can be found here.

package main

import (
	"Beacon/internal/auth"
	"Beacon/internal/registry"
	"Beacon/internal/relay"
	"Beacon/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Router(router *gin.Engine, authService auth.Service, regService registry.Service, relayService relay.Service, logger log.Logger) {
	// Health probe used by the external supervisor
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	// Everything else is either a websocket upgrade or an unknown path
	router.NoRoute(relay.ConnectionHandler(authService, regService, relayService, logger))
}
