package delivery

import (
	"errors"
	"net/http"

	ruledto "github.com/elie222/inbox-zero-sub019/internal/rule/dto"
	"github.com/elie222/inbox-zero-sub019/internal/rule/usecase"

	"github.com/gin-gonic/gin"
)

type RuleHandler struct {
	service *usecase.RuleService
}

func NewRuleHandler(service *usecase.RuleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// Register mounts the rule routes on an authenticated group.
func (h *RuleHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/rules", h.ListRules)
	rg.POST("/rules", h.CreateRule)
	rg.POST("/rules/bootstrap", h.Bootstrap)
	rg.GET("/rules/:id", h.GetRule)
	rg.PUT("/rules/:id", h.UpdateRule)
	rg.DELETE("/rules/:id", h.DeleteRule)
	rg.PATCH("/rules/:id/automate", h.SetAutomate)
	rg.GET("/rules/:id/pattern", h.GetPattern)
	rg.POST("/rules/:id/pattern", h.AddPatternItem)
	rg.DELETE("/rules/:id/pattern/:itemId", h.RemovePatternItem)
}

func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rules"})
		return
	}
	c.JSON(http.StatusOK, ruledto.RulesResponse{Rules: rules})
}

func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.service.GetRule(c.Request.Context(), c.GetString("accountID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req ruledto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), c.GetString("accountID"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var req ruledto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), c.GetString("accountID"), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RuleHandler) DeleteRule(c *gin.Context) {
	if err := h.service.DeleteRule(c.Request.Context(), c.GetString("accountID"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RuleHandler) SetAutomate(c *gin.Context) {
	var req ruledto.AutomateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.SetAutomate(c.Request.Context(), c.GetString("accountID"), c.Param("id"), req.Automate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RuleHandler) Bootstrap(c *gin.Context) {
	var req ruledto.BootstrapRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	created, err := h.service.Bootstrap(c.Request.Context(), c.GetString("accountID"), req.Categories)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ruledto.RulesResponse{Rules: created})
}

func (h *RuleHandler) GetPattern(c *gin.Context) {
	group, err := h.service.GetPattern(c.Request.Context(), c.GetString("accountID"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *RuleHandler) AddPatternItem(c *gin.Context) {
	var req ruledto.PatternItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.service.AddPatternItem(c.Request.Context(), c.GetString("accountID"), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *RuleHandler) RemovePatternItem(c *gin.Context) {
	if err := h.service.RemovePatternItem(c.Request.Context(), c.GetString("accountID"), c.Param("id"), c.Param("itemId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
	case errors.Is(err, usecase.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
