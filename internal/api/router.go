// Package api exposes the bridge's operations over HTTP via gin, as a thin
// adapter over gaslessbridge.Engine: every route does request decoding,
// calls straight through to an Engine method or a directly-held component,
// and maps the result (or a classified BridgeError) to JSON.
package api

import (
	"math/big"
	"net/http"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/internal/reserve"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/pricefeed"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/rpcclient"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallerIdentityKey is the gin context key the hosting platform is
// expected to populate with the authenticated caller's address before a
// request reaches these handlers. This module trusts but validates its
// presence, consistent with spec.md §1 treating identity issuance as an
// external collaborator.
const CallerIdentityKey = "bridge_caller"

// Router wires gaslessbridge.Engine plus the components the extended
// status/cache endpoints need direct access to (kept outside Engine's
// narrow interfaces so the core engine package stays decoupled from the
// RPC/price-feed implementations).
type Router struct {
	engine   *gaslessbridge.Engine
	reserves *reserve.Manager
	rpc      map[int64]*rpcclient.Client
	prices   *pricefeed.Feed
	log      *zap.Logger
}

// NewRouter builds a Router and registers every route named in spec.md §6.
func NewRouter(engine *gaslessbridge.Engine, reserves *reserve.Manager, rpc map[int64]*rpcclient.Client, prices *pricefeed.Feed, log *zap.Logger) *gin.Engine {
	r := &Router{engine: engine, reserves: reserves, rpc: rpc, prices: prices, log: log}

	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(r.identityMiddleware())
	g.Use(func(c *gin.Context) {
		_ = engine.Quotes.SweepExpired()
		c.Next()
	})

	g.POST("/quotes", r.requestQuote)
	g.GET("/quotes/:id", r.getQuote)
	g.POST("/bridge", r.bridgeAssets)
	g.POST("/settlements", r.settleQuote)
	g.GET("/settlements/:id", r.getSettlement)
	g.POST("/icp-payments", r.createIcpPayment)

	g.GET("/users/:address/transactions", r.getUserTransactions)
	g.GET("/users/:address/quotes", r.getUserQuotes)
	g.GET("/users/:address/settlements", r.getUserSettlements)

	g.GET("/sponsorship-status", r.getSponsorshipStatus)
	g.GET("/reserve-status", r.getDetailedReserveStatus)
	g.GET("/statistics", r.getBridgeStatistics)
	g.GET("/price-feed-status", r.getPriceFeedStatus)
	g.GET("/config", r.getConfig)

	admin := g.Group("/admin")
	admin.POST("/admins", r.addAdmin)
	admin.POST("/reserve/:chainId/:asset/funds", r.adminAddReserveFunds)
	admin.POST("/reserve/:chainId/:asset/daily-limit", r.adminSetDailyLimit)
	admin.POST("/reserve/:chainId/:asset/thresholds", r.adminSetReserveThresholds)
	admin.POST("/reserve/:chainId/:asset/pause", r.adminEmergencyPause)
	admin.POST("/reserve/:chainId/:asset/unpause", r.adminEmergencyUnpause)
	admin.PATCH("/config", r.updateConfig)

	cache := g.Group("/cache")
	cache.POST("/rpc/:chainId/clear", r.clearRpcCache)
	cache.POST("/gas/:chainId/invalidate", r.clearRpcCache)
	cache.GET("/rpc/:chainId/stats", r.getRpcCacheStats)

	return g
}

func (r *Router) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetHeader("X-Bridge-Caller")
		if caller != "" {
			c.Set(CallerIdentityKey, caller)
		}
		c.Next()
	}
}

func caller(c *gin.Context) (string, bool) {
	v, ok := c.Get(CallerIdentityKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func writeError(c *gin.Context, err error) {
	be, ok := err.(*gaslessbridge.BridgeError)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	status := http.StatusBadRequest
	switch be.Code {
	case gaslessbridge.CodeAdmin:
		status = http.StatusForbidden
	case gaslessbridge.CodeQuote, gaslessbridge.CodePayment:
		if be.Reason == gaslessbridge.ReasonNotFound {
			status = http.StatusNotFound
		}
	case gaslessbridge.CodeRPC, gaslessbridge.CodePrice, gaslessbridge.CodeSigner:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"code": be.Code, "reason": be.Reason, "message": be.Message})
}

type requestQuoteBody struct {
	AmountOutWei    string `json:"amountOutWei" binding:"required"`
	DestAddr        string `json:"destAddr" binding:"required"`
	DestChainID     int64  `json:"destChainId" binding:"required"`
	SourceAsset     string `json:"sourceAsset" binding:"required"`
	SourceChainID   int64  `json:"sourceChainId" binding:"required"`
}

func parseAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

func (r *Router) requestQuote(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	var body requestQuoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(body.AmountOutWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amountOutWei"})
		return
	}
	q, err := r.engine.RequestQuote(c.Request.Context(), user, amount, body.DestAddr, body.DestChainID, body.SourceAsset, body.SourceChainID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (r *Router) getQuote(c *gin.Context) {
	q, err := r.engine.GetQuote(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type bridgeAssetsBody struct {
	requestQuoteBody
	PaymentProof string `json:"paymentProof" binding:"required"`
}

func (r *Router) bridgeAssets(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	var body bridgeAssetsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(body.AmountOutWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amountOutWei"})
		return
	}
	s, err := r.engine.BridgeAssets(c.Request.Context(), user, amount, body.DestAddr, body.DestChainID, body.SourceAsset, body.SourceChainID, body.PaymentProof)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type settleQuoteBody struct {
	QuoteID      string `json:"quoteId" binding:"required"`
	PaymentProof string `json:"paymentProof" binding:"required"`
}

func (r *Router) settleQuote(c *gin.Context) {
	var body settleQuoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := r.engine.SettleQuote(c.Request.Context(), body.QuoteID, body.PaymentProof)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (r *Router) getSettlement(c *gin.Context) {
	s, err := r.engine.GetSettlement(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (r *Router) createIcpPayment(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	var body bridgeAssetsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(body.AmountOutWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amountOutWei"})
		return
	}
	tx, err := r.engine.CreateIcpPayment(c.Request.Context(), user, amount, body.DestAddr, body.DestChainID, body.SourceAsset, body.SourceChainID, body.PaymentProof)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (r *Router) getUserTransactions(c *gin.Context) {
	txs, err := r.engine.GetUserTransactions(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (r *Router) getUserQuotes(c *gin.Context) {
	qs, err := r.engine.GetUserQuotes(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, qs)
}

func (r *Router) getUserSettlements(c *gin.Context) {
	ss, err := r.engine.GetUserSettlements(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ss)
}

func (r *Router) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.GetConfig())
}
