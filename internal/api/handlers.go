package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/policy"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/tools/chain"
)

// Amount 接受 JSON 数字或字符串形式的 wei 金额，解析交给工具层完成。
type Amount string

// UnmarshalJSON 实现 json.Unmarshaler。
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or a numeric string")
	}
	*a = Amount(n.String())
	return nil
}

// BalanceRequest 为 POST /transfer/balance 的请求体。
type BalanceRequest struct {
	Address string `json:"address" binding:"required,eth_addr"`
}

// SimulateRequest 为 POST /transfer/simulate 的请求体。
type SimulateRequest struct {
	To    string  `json:"to" binding:"required,eth_addr"`
	Value *Amount `json:"value" binding:"required"`
}

// SendRequest 为 POST /transfer/send 的请求体。
type SendRequest struct {
	To       string  `json:"to" binding:"required,eth_addr"`
	Value    *Amount `json:"value" binding:"required"`
	MaxValue *Amount `json:"max_value"`
}

// ErrorResponse 为所有失败响应的格式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListTools(c *gin.Context) {
	names := s.registry.Names()
	out := make([]tools.Descriptor, 0, len(names))
	for _, name := range names {
		if desc, ok := s.registry.Describe(name); ok {
			out = append(out, desc)
		}
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

const (
	defaultRecordLimit = 20
	maxRecordLimit     = 500
)

func (s *Server) handleListRecords(c *gin.Context) {
	limit := defaultRecordLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数"))
			return
		}
		limit = min(n, maxRecordLimit)
	}
	latest, err := s.records.ListLatest(c.Request.Context(), limit)
	if err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取调用记录失败"))
		return
	}
	if latest == nil {
		latest = []records.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": latest})
}

func (s *Server) handleBalance(c *gin.Context) {
	var req BalanceRequest
	if !bind(c, &req) {
		return
	}
	s.dispatch(c, chain.GetBalance, map[string]any{"address": req.Address})
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req SimulateRequest
	if !bind(c, &req) {
		return
	}
	s.dispatch(c, chain.SimulateTransfer, map[string]any{"to": req.To, "value": string(*req.Value)})
}

func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if !bind(c, &req) {
		return
	}
	args := map[string]any{"to": req.To, "value": string(*req.Value)}
	if req.MaxValue != nil {
		args["max_value"] = string(*req.MaxValue)
	}
	s.dispatch(c, chain.SendTransfer, args)
}

func (s *Server) handleTool(c *gin.Context) {
	args := map[string]any{}
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体必须是 JSON 对象"))
		return
	}
	s.dispatch(c, c.Param("name"), args)
}

func (s *Server) dispatch(c *gin.Context, tool string, args map[string]any) {
	out, err := s.registry.Dispatch(c.Request.Context(), tool, args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求参数无效"))
		return false
	}
	return true
}

// StatusFor 将错误码映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodePolicyViolation:
		return http.StatusForbidden
	case xerrors.CodeUnknownTool:
		return http.StatusNotFound
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(c *gin.Context, err error) {
	resp := ErrorResponse{
		Code:    string(xerrors.CodeOf(err)),
		Message: errorMessage(err),
		Reason:  string(policy.ReasonOf(err)),
	}
	c.AbortWithStatusJSON(StatusFor(err), resp)
}

func errorMessage(err error) string {
	var v *policy.Violation
	if errors.As(err, &v) {
		return v.Error()
	}
	if e, ok := xerrors.From(err); ok {
		if cause := errors.Unwrap(e); cause != nil && e.Code() == xerrors.CodeInvalidArgument {
			return e.Message() + ": " + cause.Error()
		}
		return e.Message()
	}
	return err.Error()
}
