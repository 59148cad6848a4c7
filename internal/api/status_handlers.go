package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/gin-gonic/gin"
)

// getSponsorshipStatus is the get_sponsorship_status API operation: a
// quick health check across every tracked chain/asset reserve, answering
// "can the bridge sponsor gas right now".
func (r *Router) getSponsorshipStatus(c *gin.Context) {
	statuses := r.reserves.AllStatuses()
	out := make([]gin.H, 0, len(statuses))
	healthy := true
	for _, s := range statuses {
		if s.Health == gaslessbridge.ReserveCritical || s.Health == gaslessbridge.ReserveEmergency {
			healthy = false
		}
		out = append(out, gin.H{
			"chainId": s.Reserve.ChainID,
			"asset":   s.Reserve.Asset,
			"health":  s.Health,
		})
	}
	c.JSON(http.StatusOK, gin.H{"healthy": healthy, "reserves": out})
}

// getDetailedReserveStatus is the get_detailed_reserve_status API
// operation: the full balance/locked/daily-spend picture per reserve.
func (r *Router) getDetailedReserveStatus(c *gin.Context) {
	statuses := r.reserves.AllStatuses()
	out := make([]gin.H, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, gin.H{
			"chainId":          s.Reserve.ChainID,
			"asset":            s.Reserve.Asset,
			"balance":          s.Reserve.Balance.String(),
			"locked":           s.Locked.String(),
			"dailyLimit":       s.Reserve.DailyLimit.String(),
			"dailySpent":       s.Reserve.DailySpent.String(),
			"warningThreshold": s.Reserve.WarningThreshold.String(),
			"criticalThreshold": s.Reserve.CriticalThreshold.String(),
			"paused":           s.Reserve.Paused,
			"health":           s.Health,
		})
	}
	c.JSON(http.StatusOK, out)
}

// getBridgeStatistics is the get_bridge_statistics API operation: an
// operator-facing rollup combining reserve totals across chains with the
// recent audit trail.
func (r *Router) getBridgeStatistics(c *gin.Context) {
	statuses := r.reserves.AllStatuses()
	totalBalance := big.NewInt(0)
	totalLocked := big.NewInt(0)
	for _, s := range statuses {
		totalBalance.Add(totalBalance, s.Reserve.Balance)
		totalLocked.Add(totalLocked, s.Locked)
	}

	var recentAudit []gaslessbridge.AuditEntry
	if r.engine.Admins != nil {
		entries, err := r.engine.Admins.RecentAuditLog(50)
		if err == nil {
			recentAudit = entries
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"reserveCount":  len(statuses),
		"totalBalance":  totalBalance.String(),
		"totalLocked":   totalLocked.String(),
		"recentAuditLog": recentAudit,
	})
}

// getPriceFeedStatus is the get_price_feed_status API operation.
func (r *Router) getPriceFeedStatus(c *gin.Context) {
	if r.prices == nil {
		c.JSON(http.StatusOK, gin.H{"sources": []string{}, "lastPrices": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, r.prices.Status())
}

func parseChainID(c *gin.Context) (int64, bool) {
	v, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chainId"})
		return 0, false
	}
	return v, true
}

type addAdminBody struct {
	NewAdmin string `json:"newAdmin" binding:"required"`
}

func (r *Router) addAdmin(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	var body addAdminBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.engine.AddAdmin(actor, body.NewAdmin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": body.NewAdmin})
}

type amountBody struct {
	AmountWei string `json:"amountWei" binding:"required"`
}

func (r *Router) adminAddReserveFunds(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	var body amountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, ok := parseAmount(body.AmountWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amountWei"})
		return
	}
	if err := r.engine.AdminAddReserveFunds(actor, chainID, c.Param("asset"), amount); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) adminSetDailyLimit(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	var body amountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, ok := parseAmount(body.AmountWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amountWei"})
		return
	}
	if err := r.engine.AdminSetDailyLimit(actor, chainID, c.Param("asset"), limit); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type thresholdsBody struct {
	WarningWei  string `json:"warningWei" binding:"required"`
	CriticalWei string `json:"criticalWei" binding:"required"`
}

func (r *Router) adminSetReserveThresholds(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	var body thresholdsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	warning, ok := parseAmount(body.WarningWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid warningWei"})
		return
	}
	critical, ok := parseAmount(body.CriticalWei)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid criticalWei"})
		return
	}
	if err := r.engine.AdminSetReserveThresholds(actor, chainID, c.Param("asset"), warning, critical); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) adminEmergencyPause(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	if err := r.engine.AdminEmergencyPause(actor, chainID, c.Param("asset")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) adminEmergencyUnpause(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	if err := r.engine.AdminEmergencyUnpause(actor, chainID, c.Param("asset")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// clearRpcCache is the clear_rpc_cache API operation. invalidate_gas_cache
// shares this handler: gas estimates are derived from the same cached
// fee-history responses, so there is no separate gas-specific cache to
// target.
func (r *Router) clearRpcCache(c *gin.Context) {
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	client, ok := r.rpc[chainID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chainId"})
		return
	}
	client.ClearCache()
	c.Status(http.StatusNoContent)
}

func (r *Router) getRpcCacheStats(c *gin.Context) {
	chainID, ok := parseChainID(c)
	if !ok {
		return
	}
	client, ok := r.rpc[chainID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chainId"})
		return
	}
	c.JSON(http.StatusOK, client.Stats())
}

type configUpdateBody struct {
	MinQuoteAmountUSD    *float64 `json:"minQuoteAmountUsd"`
	MaxQuoteAmountUSD    *float64 `json:"maxQuoteAmountUsd"`
	QuoteValidityMinutes *int     `json:"quoteValidityMinutes"`
	MaxGasPriceGwei      *float64 `json:"maxGasPriceGwei"`
	GasSafetyMarginPct   *float64 `json:"gasSafetyMarginPercent"`
	MaxSettlementRetries *int     `json:"maxSettlementRetries"`
}

// updateConfig is the update_config API operation: an admin tunes the
// bridge's runtime limits without a restart. Supported chains and the
// admin list stay out of scope here since they already have their own
// dedicated operations.
func (r *Router) updateConfig(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	var body configUpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := r.engine.UpdateConfig(actor, gaslessbridge.ConfigUpdate{
		MinQuoteAmountUSD:    body.MinQuoteAmountUSD,
		MaxQuoteAmountUSD:    body.MaxQuoteAmountUSD,
		QuoteValidityMins:    body.QuoteValidityMinutes,
		MaxGasPriceGwei:      body.MaxGasPriceGwei,
		GasSafetyMarginPct:   body.GasSafetyMarginPct,
		MaxSettlementRetries: body.MaxSettlementRetries,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
