package rules

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BakeLens/shellgate/internal/api"
)

// APIHandler provides HTTP handlers for policy inspection and dry runs
type APIHandler struct {
	engine       *Engine
	classifier   *Classifier
	defaultAgent string
}

// NewAPIHandler creates a new API handler. defaultAgent is used when a
// request does not name one.
func NewAPIHandler(engine *Engine, classifier *Classifier, defaultAgent string) *APIHandler {
	return &APIHandler{engine: engine, classifier: classifier, defaultAgent: defaultAgent}
}

// RegisterRoutes registers policy routes on the /api group.
func (h *APIHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/check", h.HandleCheck)
	policy := group.Group("/policy")
	{
		policy.GET("", h.HandlePolicy)
		policy.GET("/files", h.HandleListFiles)
		policy.POST("/reload", h.HandleReload)
		policy.POST("/lint", h.HandleLint)
	}
}

// CheckRequest is the body of POST /api/check.
type CheckRequest struct {
	Command string `json:"command" binding:"required,max=65536"`
	Agent   string `json:"agent" binding:"omitempty,max=128"`
}

// HandleCheck handles POST /api/check: sanitize, parse and classify without
// running anything. Rejected input is a 422 carrying the reason.
func (h *APIHandler) HandleCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	agent := h.agent(req.Agent)

	analysis, err := h.classifier.Analyze(req.Command, h.engine.Policy(agent))
	if err != nil {
		var obf *ObfuscationError
		var perr *ParseError
		if errors.As(err, &obf) || errors.As(err, &perr) {
			api.Error(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Error("check failed: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to analyze command")
		return
	}
	if analysis.Decisions == nil {
		analysis.Decisions = []Decision{}
	}
	if analysis.ExternalPaths == nil {
		analysis.ExternalPaths = []string{}
	}
	api.Success(c, gin.H{
		"agent":    agent,
		"analysis": analysis,
	})
}

// PolicyQuery represents query parameters for the policy endpoint
type PolicyQuery struct {
	Agent string `form:"agent" binding:"omitempty,max=128"`
}

// HandlePolicy handles GET /api/policy: the merged policy of one agent.
func (h *APIHandler) HandlePolicy(c *gin.Context) {
	var query PolicyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		api.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	p := h.engine.Policy(h.agent(query.Agent))

	trusted := make([]string, 0, len(p.Trusted))
	for _, t := range p.Trusted {
		trusted = append(trusted, t.String())
	}
	rules := p.Rules
	if rules == nil {
		rules = []Rule{}
	}
	api.Success(c, gin.H{
		"agent":            p.Agent,
		"default_tier":     DefaultTier,
		"total":            len(rules),
		"rules":            rules,
		"trusted_commands": trusted,
		"workspaces":       append([]string{}, p.Workspaces...),
	})
}

// HandleListFiles returns the loaded policy files
func (h *APIHandler) HandleListFiles(c *gin.Context) {
	type fileInfo struct {
		Path   string `json:"path"`
		Source Source `json:"source"`
		Agent  string `json:"agent,omitempty"`
		Rules  int    `json:"rules"`
	}
	files := make([]fileInfo, 0)
	for _, lp := range h.engine.Files() {
		files = append(files, fileInfo{
			Path:   lp.FilePath,
			Source: lp.Source,
			Agent:  lp.File.Agent,
			Rules:  len(lp.Rules),
		})
	}
	api.Success(c, gin.H{
		"directory": h.engine.GetLoader().GetUserDir(),
		"files":     files,
	})
}

// HandleReload triggers a reload of the policy directory
func (h *APIHandler) HandleReload(c *gin.Context) {
	if err := h.engine.Reload(); err != nil {
		// Don't expose filesystem details to the caller
		log.Error("Policy reload failed: %v", err)
		api.Error(c, http.StatusInternalServerError, "Failed to reload policy")
		return
	}
	api.Success(c, gin.H{
		"status":     "reloaded",
		"rule_count": h.engine.RuleCount(),
	})
}

// HandleLint lints policy YAML from the request body without loading it.
func (h *APIHandler) HandleLint(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		api.Error(c, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(body) > MaxPolicyFileSize {
		api.Error(c, http.StatusRequestEntityTooLarge, "Policy file too large (max 1MB)")
		return
	}

	res, err := NewLinter().LintYAML(body, "request")
	if err != nil {
		api.Success(c, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	if res.Issues == nil {
		res.Issues = []LintIssue{}
	}
	api.Success(c, gin.H{
		"valid":  res.Errors == 0,
		"result": res,
	})
}

// MaxPolicyFileSize is the maximum accepted policy document size (1MB)
const MaxPolicyFileSize = 1 << 20

func (h *APIHandler) agent(name string) string {
	if name != "" {
		return name
	}
	return h.defaultAgent
}
