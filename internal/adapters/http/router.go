package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/parleylab/parley/internal/config"
	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/room"
	"github.com/parleylab/parley/internal/signal"
)

// abortWithError maps protocol errors onto HTTP statuses. The signaling error
// codes already follow HTTP semantics.
func abortWithError(c *gin.Context, err error) {
	var perr *signal.Error
	if errors.As(err, &perr) {
		c.JSON(perr.Code, gin.H{"error": perr.Reason})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// currentRoom resolves the live session for broadcaster requests that must
// not create one.
func currentRoom(c *gin.Context, registry *room.Registry) *room.Room {
	r := registry.Current()
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return nil
	}
	return r
}

// SetupRouter wires the WebSocket signaling endpoint, the broadcaster REST
// API, metrics and the static UI.
func SetupRouter(cfg *config.Config, registry *room.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		sess := registry.Current()
		if sess == nil {
			c.JSON(http.StatusOK, gin.H{"session": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess.Status()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	// GET /ws?peerId={id}&consumerReplicas={n}
	r.GET("/ws", func(c *gin.Context) {
		peerID := c.Query("peerId")
		if peerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing peerId"})
			return
		}
		replicas := cfg.ConsumerReplicas
		if v := c.Query("consumerReplicas"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				replicas = n
			}
		}

		transport, err := signal.Upgrade(c.Writer, c.Request, cfg.PingPeriod)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("websocket upgrade")
			return
		}

		sess, err := registry.Acquire(replicas)
		if err != nil {
			transport.Close()
			return
		}
		log.Info().Str("module", "adapters.http").Str("peer", peerID).Str("room", sess.ID()).Msg("signaling connection")
		if err := sess.HandleConnection(peerID, transport); err != nil {
			transport.Close()
		}
	})

	api := r.Group("/rooms")

	api.POST("/broadcasters", func(c *gin.Context) {
		var req room.CreateBroadcasterRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		sess, err := registry.Acquire(cfg.ConsumerReplicas)
		if err != nil {
			abortWithError(c, err)
			return
		}
		resp, err := sess.CreateBroadcaster(req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	api.DELETE("/broadcasters/:broadcasterId", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		if err := sess.DeleteBroadcaster(c.Param("broadcasterId")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/broadcasters/:broadcasterId/transports", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		var req room.CreateBroadcasterTransportRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		info, err := sess.CreateBroadcasterTransport(c.Param("broadcasterId"), req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	api.POST("/broadcasters/:broadcasterId/transports/:transportId/connect", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		var req struct {
			DTLSParameters *webrtc.DTLSParameters `json:"dtlsParameters"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := sess.ConnectBroadcasterTransport(c.Param("broadcasterId"), c.Param("transportId"), req.DTLSParameters); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	api.POST("/broadcasters/:broadcasterId/transports/:transportId/producers", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		var req struct {
			Kind          media.Kind          `json:"kind"`
			RTPParameters media.RTPParameters `json:"rtpParameters"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		id, err := sess.CreateBroadcasterProducer(c.Param("broadcasterId"), c.Param("transportId"), req.Kind, req.RTPParameters)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	api.POST("/broadcasters/:broadcasterId/transports/:transportId/consume", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		producerID := c.Query("producerId")
		if producerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing producerId"})
			return
		}
		info, err := sess.CreateBroadcasterConsumer(c.Param("broadcasterId"), c.Param("transportId"), producerID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	api.POST("/broadcasters/:broadcasterId/transports/:transportId/consume/data", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		var req struct {
			DataProducerID string `json:"dataProducerId"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		info, err := sess.CreateBroadcasterDataConsumer(c.Param("broadcasterId"), c.Param("transportId"), req.DataProducerID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	api.POST("/broadcasters/:broadcasterId/transports/:transportId/produce/data", func(c *gin.Context) {
		sess := currentRoom(c, registry)
		if sess == nil {
			return
		}
		var req room.CreateBroadcasterDataProducerRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		id, err := sess.CreateBroadcasterDataProducer(c.Param("broadcasterId"), c.Param("transportId"), req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	return r
}
