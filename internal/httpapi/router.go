// Package httpapi implements the §6 HTTP surface with gin, matching the
// original Python service's FastAPI routes one-for-one and this
// distillation's choice of gin.Context.ShouldBindJSON for request decoding.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/epochkv/epoch/internal/cab"
	"github.com/epochkv/epoch/internal/logging"
	"github.com/epochkv/epoch/internal/replica"
	"github.com/epochkv/epoch/internal/request"
)

var logger = logging.Get("httpapi")

// NewRouter builds the gin engine exposing the five §6 endpoints plus the
// expansion /status endpoint, bound to rep.
func NewRouter(rep *replica.Replica) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/invoke", invokeHandler(rep))
	r.POST("/gossip", gossipHandler(rep))
	r.POST("/gossip-cab", gossipCABHandler(rep))
	r.POST("/propose-cab", proposeCABHandler(rep))
	r.POST("/decide-cab", decideCABHandler(rep))
	r.GET("/status", statusHandler(rep))

	return r
}

type invokeBody struct {
	Op       []any `json:"op"`
	StrongOp bool  `json:"strong_op"`
}

func invokeHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body invokeBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		op, err := request.ParseOperationTriple(body.Op)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}

		res, err := rep.Invoke(op, body.StrongOp)
		if err != nil {
			logger.Errorf("invoke: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"event_no": res.EventNo, "node_id": res.NodeID})
	}
}

func gossipHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req request.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		logger.Infof("received gossip for request %s", req.ID)

		already, err := rep.Gossip(&req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": err.Error()})
			return
		}
		if already {
			c.JSON(http.StatusOK, gin.H{"msg": "Already delivered"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "Added to buffer"})
	}
}

func gossipCABHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg cab.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		logger.Infof("received gossip-cab for message %s", msg.M)

		already, err := rep.GossipCAB(msg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": err.Error()})
			return
		}
		if already {
			c.JSON(http.StatusOK, gin.H{"msg": "Already delivered"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "Added to buffer"})
	}
}

func proposeCABHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		var prop cab.Proposal
		if err := c.ShouldBindJSON(&prop); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		rep.ReceiveProposal(prop)
		c.JSON(http.StatusOK, gin.H{"msg": "Recorded"})
	}
}

func decideCABHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		var dec cab.Decision
		if err := c.ShouldBindJSON(&dec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
		rep.ReceiveDecision(dec)
		c.JSON(http.StatusOK, gin.H{"msg": "Recorded"})
	}
}

func statusHandler(rep *replica.Replica) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, rep.Status())
	}
}
