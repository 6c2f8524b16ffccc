package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

type UserHandler struct {
	engine *services.Engine
}

func NewUserHandler(engine *services.Engine) *UserHandler {
	return &UserHandler{
		engine: engine,
	}
}

type currencyTotals struct {
	Wagered  decimal.Decimal `json:"wagered"`
	Returned decimal.Decimal `json:"returned"`
}

// GetCurrentUser echoes the authenticated identity with a summary of the
// user's recent bets.
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	sessionID, _ := c.Get("session_id")

	bets, err := h.engine.UserBets(c.Request.Context(), userID.(int64), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get bets"})
		return
	}

	open := 0
	totals := make(map[string]*currencyTotals)
	outcomes := make(map[models.BetOutcome]int)
	for _, b := range bets {
		t, ok := totals[b.Currency]
		if !ok {
			t = &currencyTotals{Wagered: decimal.Zero, Returned: decimal.Zero}
			totals[b.Currency] = t
		}
		t.Wagered = t.Wagered.Add(b.Amount)
		if !b.Resolved() {
			open++
			continue
		}
		outcomes[b.Outcome]++
		t.Returned = t.Returned.Add(b.Payout)
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"session_id": sessionID,
		"stats": gin.H{
			"recent_bets": len(bets),
			"open_bets":   open,
			"outcomes":    outcomes,
			"totals":      totals,
		},
	})
}
