package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Monthlyaway/short-rules/internal/middleware"
	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/Monthlyaway/short-rules/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// RuleHandler handles HTTP requests for shortening rules
type RuleHandler struct {
	service     *service.RuleService
	logger      *zap.Logger
	aliasDomain string
}

// NewRuleHandler creates a new rule handler instance
func NewRuleHandler(svc *service.RuleService, logger *zap.Logger, aliasDomain string) *RuleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleHandler{
		service:     svc,
		logger:      logger,
		aliasDomain: aliasDomain,
	}
}

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	Link    string `json:"link" binding:"required"`
	Subpart string `json:"subpart" binding:"required"`
	// ExpireDate is the rule deletion date as "2006-01-02"; defaults to
	// today plus the owner's rule lifetime when omitted
	ExpireDate string `json:"expire_date,omitempty"`
}

// FormDefaults carries the prefilled values for the submission form
type FormDefaults struct {
	Domain     string `json:"domain"`
	ExpireDate string `json:"expire_date"`
}

// HomeResponse represents the GET / payload: form defaults plus the
// owner's paginated listing
type HomeResponse struct {
	Form    FormDefaults     `json:"form"`
	Listing *service.Listing `json:"listing"`
}

// CreateRuleResponse represents the response for a created rule
type CreateRuleResponse struct {
	Rule    model.RuleSummary `json:"rule"`
	SaveMsg string            `json:"save_msg"`
	Listing *service.Listing  `json:"listing"`
}

// Response represents a generic API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Home handles GET /: the submission form defaults plus the owner's
// rule listing, served through the cache
func (h *RuleHandler) Home(c *gin.Context) {
	owner := middleware.OwnerFrom(c)
	page := pageNumber(c)

	listing, err := h.service.GetOwnerRules(c.Request.Context(), owner, page, false)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: HomeResponse{
			Form:    h.formDefaults(owner),
			Listing: listing,
		},
	})
}

// CreateRule handles POST /: validate and store a new rule, then
// return the listing recomputed past the cache
func (h *RuleHandler) CreateRule(c *gin.Context) {
	owner := middleware.OwnerFrom(c)

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	expireDate, fieldErr := h.expireDate(owner, req.ExpireDate)
	if fieldErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": fieldErr})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), owner, req.Link, req.Subpart, expireDate)
	if err != nil {
		if v, ok := service.AsValidationError(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{"errors": v})
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to create rule", err)
		return
	}

	// A write happened in this request cycle: bypass the cache
	listing, err := h.service.GetOwnerRules(c.Request.Context(), owner, 1, true)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: CreateRuleResponse{
			Rule:    rule.Summary(),
			SaveMsg: rule.String(),
			Listing: listing,
		},
	})
}

// Redirect handles GET /:rule_id: resolve the rule and redirect to its
// original link
func (h *RuleHandler) Redirect(c *gin.Context) {
	ruleID, err := strconv.ParseInt(c.Param("rule_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{
			Code:    http.StatusNotFound,
			Message: "Rule not found",
		})
		return
	}

	link, err := h.service.Resolve(c.Request.Context(), ruleID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Code:    http.StatusNotFound,
				Message: "Rule not found",
			})
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to resolve rule", err)
		return
	}

	c.Redirect(http.StatusFound, link)
}

// CheckSubpart handles GET /check-subpart?subpart=<s>
func (h *RuleHandler) CheckSubpart(c *gin.Context) {
	subpart, present := c.GetQuery("subpart")
	if !present {
		c.JSON(http.StatusOK, gin.H{"error": "missing subpart parameter in request"})
		return
	}
	if subpart == "" {
		c.JSON(http.StatusOK, gin.H{"error": "subpart value is empty"})
		return
	}

	exists, err := h.service.SubpartExists(c.Request.Context(), subpart)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to check subpart", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_subpart_exists": exists})
}

// SuggestSubpart handles GET /suggest-subpart: a generated free subpart
func (h *RuleHandler) SuggestSubpart(c *gin.Context) {
	subpart, err := h.service.SuggestSubpart(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to suggest subpart", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subpart": subpart})
}

// ListRules handles GET /api/v1/rules: every rule sorted by expire date
func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListAllRules(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule handles GET /api/v1/rules/:rule_id
func (h *RuleHandler) GetRule(c *gin.Context) {
	ruleID, err := strconv.ParseInt(c.Param("rule_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Rule not found"})
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), ruleID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Rule not found"})
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRuleREST handles POST /api/v1/rules
func (h *RuleHandler) CreateRuleREST(c *gin.Context) {
	owner := middleware.OwnerFrom(c)

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	expireDate, fieldErr := h.expireDate(owner, req.ExpireDate)
	if fieldErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": fieldErr})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), owner, req.Link, req.Subpart, expireDate)
	if err != nil {
		if v, ok := service.AsValidationError(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{"errors": v})
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule.Summary())
}

// DeleteRule handles DELETE /api/v1/rules/:rule_id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	ruleID, err := strconv.ParseInt(c.Param("rule_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Rule not found"})
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), ruleID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Rule not found"})
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to delete rule", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *RuleHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "OK",
	})
}

func (h *RuleHandler) formDefaults(owner *model.Owner) FormDefaults {
	expire := model.DateOf(time.Now()).AddDate(0, 0, owner.URLTTL)
	return FormDefaults{
		Domain:     h.aliasDomain,
		ExpireDate: expire.Format(dateLayout),
	}
}

// expireDate parses the submitted expire date, defaulting to today
// plus the owner's rule lifetime when omitted
func (h *RuleHandler) expireDate(owner *model.Owner, raw string) (time.Time, service.ValidationError) {
	if raw == "" {
		return model.DateOf(time.Now()).AddDate(0, 0, owner.URLTTL), nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, service.ValidationError{"expire_date": "expire date must be formatted as " + dateLayout}
	}
	return parsed, nil
}

func (h *RuleHandler) fail(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	c.JSON(status, Response{
		Code:    status,
		Message: message,
	})
}

func pageNumber(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		return 1
	}
	return page
}
