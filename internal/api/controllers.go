package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agent-core/internal/vault"
)

// listStrategies returns the active strategy catalog.
func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Catalog.List()})
}

// getPrice proxies a spot quote for a market symbol.
func (s *Server) getPrice(c *gin.Context) {
	q, err := s.Feed.Price(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "PRICE_FEED_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, q)
}

// listVaults returns the caller's vaults.
func (s *Server) listVaults(c *gin.Context) {
	vaults, err := s.DB.ListVaultsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vaults": vaults})
}

// getVault returns one vault, owner only.
func (s *Server) getVault(c *gin.Context) {
	v, err := s.DB.GetVault(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if v == nil || v.UserID != CurrentUserID(c) {
		// Hide other users' vaults behind the same 404.
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "VAULT_NOT_FOUND",
			"error": "vault not found",
		})
		return
	}
	c.JSON(http.StatusOK, v)
}

// getVaultPosition returns the last recorded position for a vault.
func (s *Server) getVaultPosition(c *gin.Context) {
	ctx := c.Request.Context()
	v, err := s.DB.GetVault(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if v == nil || v.UserID != CurrentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "VAULT_NOT_FOUND",
			"error": "vault not found",
		})
		return
	}

	p, err := s.DB.GetPosition(ctx, v.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"vault_id": v.ID, "position": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vault_id": v.ID, "position": p})
}

// listVaultEvents returns recent agent actions for a vault.
func (s *Server) listVaultEvents(c *gin.Context) {
	ctx := c.Request.Context()
	v, err := s.DB.GetVault(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if v == nil || v.UserID != CurrentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "VAULT_NOT_FOUND",
			"error": "vault not found",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := s.DB.ListAgentEvents(ctx, v.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vault_id": v.ID, "events": events})
}

// pauseVault suspends the agent loop for an active vault.
func (s *Server) pauseVault(c *gin.Context) {
	err := s.Vaults.Pause(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	s.respondTransition(c, err, "paused")
}

// resumeVault reactivates a paused vault.
func (s *Server) resumeVault(c *gin.Context) {
	err := s.Vaults.Resume(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	s.respondTransition(c, err, "active")
}

// closeVault ends a vault's agent-managed lifecycle.
func (s *Server) closeVault(c *gin.Context) {
	err := s.Vaults.Close(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	s.respondTransition(c, err, "closed")
}

func (s *Server) respondTransition(c *gin.Context, err error, status string) {
	switch {
	case errors.Is(err, vault.ErrVaultNotFound), errors.Is(err, vault.ErrNotVaultOwner):
		// Hide other users' vaults behind the same 404.
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "VAULT_NOT_FOUND",
			"error": "vault not found",
		})
	case errors.Is(err, vault.ErrBadTransition):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "INVALID_VAULT_STATUS",
			"error": err.Error(),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{"vault_id": c.Param("id"), "status": status})
	}
}
