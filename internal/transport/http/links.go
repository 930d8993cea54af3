package httptransport

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/gateway"
	"linkgate/backend/internal/geo"
)

// 访问凭证请求头
const (
	HeaderPassword = "X-Link-Password"
	HeaderToken    = "X-Link-Token"
	// HeaderEdgeCountry 边缘节点（Cloudflare）提供的国家代码
	HeaderEdgeCountry = "CF-IPCountry"
)

// LinkHandler 链接访问处理器
type LinkHandler struct {
	gateway      *gateway.Gateway
	trustEdgeGeo bool
}

// NewLinkHandler 创建链接访问处理器
func NewLinkHandler(gw *gateway.Gateway, trustEdgeGeo bool) *LinkHandler {
	return &LinkHandler{gateway: gw, trustEdgeGeo: trustEdgeGeo}
}

type resourceView struct {
	ID   string          `json:"id"`
	Type domain.LinkType `json:"type"`
	Name string          `json:"name,omitempty"`
}

type linkView struct {
	ID            string     `json:"id"`
	Views         int64      `json:"views"`
	ViewLimit     *int64     `json:"viewLimit,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AllowDownload bool       `json:"allowDownload"`
}

type featureView struct {
	PasswordProtected bool `json:"passwordProtected"`
	RequireEmail      bool `json:"requireEmail"`
	RequireNDA        bool `json:"requireNda"`
	AllowDownload     bool `json:"allowDownload"`
}

type grantResponse struct {
	Allowed  bool         `json:"allowed"`
	Resource resourceView `json:"resource"`
	Link     linkView     `json:"link"`
	Features featureView  `json:"features"`
}

// denial 未通过时的数据载荷；终止类错误只携带 errorCode
type denial struct {
	Allowed              bool             `json:"allowed"`
	ErrorCode            domain.ErrorCode `json:"errorCode"`
	Reason               string           `json:"reason,omitempty"`
	RequiresPassword     bool             `json:"requiresPassword,omitempty"`
	RequiresEmail        bool             `json:"requiresEmail,omitempty"`
	RequiresVerification bool             `json:"requiresVerification,omitempty"`
	RequiresNDA          bool             `json:"requiresNda,omitempty"`
	NDAText              string           `json:"ndaText,omitempty"`
	AttemptsRemaining    *int             `json:"attemptsRemaining,omitempty"`
	RetryAfterSeconds    int              `json:"retryAfterSeconds,omitempty"`
}

func newDenial(o gateway.Outcome) denial {
	d := denial{
		ErrorCode:         o.Code,
		AttemptsRemaining: o.AttemptsRemaining,
		RetryAfterSeconds: o.RetryAfterSeconds(),
	}
	// 拒绝原因只对访问控制公开，其余错误码本身已足够明确
	if o.Code == domain.CodeAccessDenied {
		d.Reason = o.Reason
	}
	if o.Kind == gateway.KindNeedsInput {
		switch o.Requirement {
		case domain.RequirementPassword:
			d.RequiresPassword = true
		case domain.RequirementEmail:
			d.RequiresEmail = true
		case domain.RequirementCode:
			d.RequiresVerification = true
		case domain.RequirementNDA:
			d.RequiresNDA = true
			d.NDAText = o.NDAText
		}
	}
	return d
}

func (h *LinkHandler) request(c *gin.Context, linkType domain.LinkType) gateway.Request {
	req := gateway.Request{
		LinkRef:   c.Param("id"),
		LinkType:  linkType,
		Password:  c.GetHeader(HeaderPassword),
		Token:     c.GetHeader(HeaderToken),
		Email:     c.Query("email"),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if h.trustEdgeGeo {
		req.Country = geo.FromHeader(c.GetHeader(HeaderEdgeCountry))
	}
	return req
}

func (h *LinkHandler) reject(c *gin.Context, o gateway.Outcome) {
	setRetryAfter(c, o.RetryAfterSeconds())
	Reject(c, o.Code, GetErrorMessage(o.Code), newDenial(o))
}

// resolve 判定是否允许访问，通过时计一次访问
func (h *LinkHandler) resolve(linkType domain.LinkType) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := h.gateway.Resolve(c.Request.Context(), h.request(c, linkType))
		if err != nil {
			InternalError(c)
			return
		}
		if !decision.Allowed() {
			h.reject(c, decision.Outcome)
			return
		}

		link := decision.Link
		Success(c, grantResponse{
			Allowed: true,
			Resource: resourceView{
				ID:   link.ResourceID,
				Type: link.LinkType,
				Name: link.ResourceName,
			},
			Link: linkView{
				ID:            link.ID,
				Views:         link.CurrentViews,
				ViewLimit:     link.ViewLimit,
				ExpiresAt:     link.ExpiresAt,
				AllowDownload: link.AllowDownload,
			},
			Features: featureView{
				PasswordProtected: link.HasPassword(),
				RequireEmail:      link.RequireEmail,
				RequireNDA:        link.RequireNDA,
				AllowDownload:     link.AllowDownload,
			},
		})
	}
}

type actionPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type actionResponse struct {
	Success        bool           `json:"success"`
	Action         gateway.Action `json:"action"`
	Token          string         `json:"token,omitempty"`
	TokenExpiresAt *time.Time     `json:"tokenExpiresAt,omitempty"`
	CodeExpiresAt  *time.Time     `json:"codeExpiresAt,omitempty"`
}

// act 执行链接上的动作；请求体字段优先于请求头
func (h *LinkHandler) act(linkType domain.LinkType) gin.HandlerFunc {
	return func(c *gin.Context) {
		action, ok := gateway.ParseAction(c.Param("action"))
		if !ok {
			BadRequest(c, MsgUnknownAction)
			return
		}

		var payload actionPayload
		if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
			BadRequest(c, MsgInvalidJSON)
			return
		}

		req := gateway.ActionRequest{
			Request: h.request(c, linkType),
			Action:  action,
			Code:    payload.Code,
		}
		if payload.Email != "" {
			req.Email = payload.Email
		}
		if payload.Password != "" {
			req.Password = payload.Password
		}

		res, err := h.gateway.Act(c.Request.Context(), req)
		if err != nil {
			InternalError(c)
			return
		}
		if !res.Passed() {
			h.reject(c, res.Outcome)
			return
		}

		Success(c, actionResponse{
			Success:        true,
			Action:         action,
			Token:          res.Token,
			TokenExpiresAt: res.TokenExpiresAt,
			CodeExpiresAt:  res.CodeExpiresAt,
		})
	}
}
