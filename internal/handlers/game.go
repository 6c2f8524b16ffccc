package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/models"
	"github.com/firdaus0729/casino-frontend/internal/services"
)

type GameHandler struct {
	engine *services.Engine
	log    *zap.Logger
}

func NewGameHandler(engine *services.Engine, log *zap.Logger) *GameHandler {
	return &GameHandler{
		engine: engine,
		log:    log,
	}
}

func gameParam(c *gin.Context) (models.GameType, bool) {
	gt, err := models.ParseGameType(c.Param("game"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown game", "details": err.Error()})
		return "", false
	}
	return gt, true
}

func blockNumParam(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("blockNum"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid block number"})
		return 0, false
	}
	return n, true
}

func limitQuery(c *gin.Context) int64 {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	return limit
}

// writeError maps engine errors to status codes. Fairness mismatches are
// handled by the verify endpoints since they carry a record.
func (h *GameHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case services.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "INVALID_BET", "details": err.Error()})
	case errors.Is(err, services.ErrInvalidBlockIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "INVALID_BLOCK_ID", "details": err.Error()})
	case errors.Is(err, services.ErrRoundClosed):
		c.JSON(http.StatusConflict, gin.H{"error": msg, "code": "ROUND_CLOSED", "details": err.Error()})
	case errors.Is(err, services.ErrRoundVoided):
		c.JSON(http.StatusConflict, gin.H{"error": msg, "code": "ROUND_VOIDED", "details": err.Error()})
	case errors.Is(err, services.ErrRoundNotOver):
		c.JSON(http.StatusConflict, gin.H{"error": msg, "code": "ROUND_NOT_SETTLED", "details": err.Error()})
	case errors.Is(err, services.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many bets. Please wait.", "code": "RATE_LIMITED"})
	case errors.Is(err, services.ErrNoOpenRound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg, "code": "NO_OPEN_ROUND"})
	case errors.Is(err, services.ErrRoundNotFound),
		errors.Is(err, services.ErrBetNotFound),
		errors.Is(err, services.ErrUnknownGame):
		c.JSON(http.StatusNotFound, gin.H{"error": msg, "details": err.Error()})
	default:
		h.log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func (h *GameHandler) GetCurrentRound(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}

	info, err := h.engine.RoundInfo(c.Request.Context(), gt)
	if err != nil {
		h.writeError(c, "Failed to get current round", err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *GameHandler) GetRoundResult(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}
	n, ok := blockNumParam(c)
	if !ok {
		return
	}

	res, err := h.engine.RoundResult(c.Request.Context(), gt, n)
	if err != nil {
		h.writeError(c, "Failed to get round result", err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *GameHandler) GetRoundHistory(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}

	rounds, err := h.engine.History(c.Request.Context(), gt, limitQuery(c))
	if err != nil {
		h.writeError(c, "Failed to get round history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rounds": rounds,
		"count":  len(rounds),
	})
}

func (h *GameHandler) VerifyRound(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}
	n, ok := blockNumParam(c)
	if !ok {
		return
	}

	rec, err := h.engine.VerifyRound(c.Request.Context(), gt, n)
	h.writeVerification(c, rec, err)
}

func (h *GameHandler) VerifyBlock(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}

	var req models.VerifyBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	rec, err := h.engine.VerifyBlock(gt, req.BlockID, req.ClaimedResult)
	h.writeVerification(c, rec, err)
}

func (h *GameHandler) writeVerification(c *gin.Context, rec *models.VerificationRecord, err error) {
	if errors.Is(err, services.ErrFairnessMismatch) {
		c.JSON(http.StatusConflict, gin.H{
			"error":        "Verification failed",
			"code":         "FAIRNESS_MISMATCH",
			"details":      err.Error(),
			"verification": rec,
		})
		return
	}
	if errors.Is(err, services.ErrInvalidChoice) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification failed", "code": "INVALID_RESULT", "details": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, "Verification failed", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *GameHandler) PlaceBet(c *gin.Context) {
	gt, ok := gameParam(c)
	if !ok {
		return
	}
	userID := c.GetInt64("user_id")

	var req models.PlaceBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid amount",
			"code":    "INVALID_BET",
			"details": err.Error(),
		})
		return
	}

	bet, round, err := h.engine.PlaceBet(c.Request.Context(), gt, services.AdmitRequest{
		UserID:   userID,
		Choice:   req.Choice,
		Amount:   amount,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeError(c, "Failed to place bet", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"betId":            bet.ID,
		"roundId":          round.TargetHeight,
		"blockNum":         round.TargetHeight,
		"betClosesAtBlock": round.CloseHeight,
		"bet":              bet,
	})
}

func (h *GameHandler) GetBet(c *gin.Context) {
	userID := c.GetInt64("user_id")

	bet, err := h.engine.GetBet(c.Request.Context(), userID, c.Param("betId"))
	if err != nil {
		h.writeError(c, "Failed to get bet", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bet": bet})
}

func (h *GameHandler) GetUserBets(c *gin.Context) {
	userID := c.GetInt64("user_id")

	bets, err := h.engine.UserBets(c.Request.Context(), userID, limitQuery(c))
	if err != nil {
		h.writeError(c, "Failed to get bets", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bets":  bets,
		"count": len(bets),
	})
}
