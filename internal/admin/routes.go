package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/observability"
	"github.com/danmuck/peerctl/internal/peer"
	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

// StartRequest is the body of POST /peers.
type StartRequest struct {
	Path string   `json:"path" binding:"required"`
	Args []string `json:"args"`
	Env  []string `json:"env"`
	Dir  string   `json:"dir"`
}

// InboundView is the JSON shape of one inbound line.
type InboundView struct {
	Peer     peer.ID   `json:"peer"`
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind,omitempty"`
	Line     string    `json:"line"`
	Error    string    `json:"error,omitempty"`
	Received time.Time `json:"received"`
}

func NewInboundView(in peer.Inbound) InboundView {
	view := InboundView{Peer: in.Peer, Seq: in.Seq, Line: string(in.Line), Received: in.Received}
	if in.Message != nil {
		view.Kind = in.Message.Kind().String()
	}
	if in.Err != nil {
		view.Error = in.Err.Error()
	}
	return view
}

const maxSendBody = 4 << 20

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"peers":  len(s.peers.Peers()),
		})
	})

	s.router.GET("/metrics", s.requireToken(), gin.WrapH(promhttp.Handler()))

	routes := s.router.Group("/peers", s.requireToken())

	routes.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": s.peers.Peers()})
	})

	routes.POST("", func(c *gin.Context) {
		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts := []peer.StartOption{peer.WithArgs(req.Args...), peer.WithEnv(req.Env...)}
		if req.Dir != "" {
			opts = append(opts, peer.WithDir(req.Dir))
		}
		// The peer outlives the request.
		id, err := s.peers.Start(context.WithoutCancel(c.Request.Context()), req.Path, opts...)
		if err != nil {
			respondError(c, err)
			return
		}
		logs.Infof("admin.Server.start peer_id=%d path=%q", id, req.Path)
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	routes.GET("/:id", s.withPeer(func(c *gin.Context, id peer.ID) {
		info, err := s.peers.Info(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}))

	routes.DELETE("/:id", s.withPeer(func(c *gin.Context, id peer.ID) {
		if err := s.peers.Stop(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}))

	routes.POST("/:id/send", s.withPeer(func(c *gin.Context, id peer.ID) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSendBody+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(body) > maxSendBody {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		if err := s.peers.Send(c.Request.Context(), id, body); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	}))

	routes.GET("/:id/next", s.withPeer(func(c *gin.Context, id peer.ID) {
		timeout := s.opts.NextTimeout
		if raw := strings.TrimSpace(c.Query("timeout")); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
				return
			}
			timeout = d
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		in, err := s.peers.ReadLine(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, NewInboundView(in))
	}))
}

func (s *Server) withPeer(next func(c *gin.Context, id peer.ID)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := peer.ParseID(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if info, err := s.peers.Info(id); err == nil {
			c.Set(observability.PeerStateKey, info.State.String())
		}
		next(c, id)
	}
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, peer.ErrUnknownPeer):
		status = http.StatusNotFound
	case errors.Is(err, peer.ErrHandshakeFailed), errors.Is(err, peer.ErrReservedID):
		status = http.StatusConflict
	case errors.Is(err, peer.ErrSpawn), errors.Is(err, peer.ErrPeerIO):
		status = http.StatusBadGateway
	case errors.Is(err, frame.ErrEmbeddedNewline), errors.Is(err, frame.ErrEmptyFrame),
		errors.Is(err, jsonrpc.ErrMalformedMessage):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
