package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// 受信任網關傳入的身份 Header
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

const identityKey = "identity"

type identityCtxKey struct{}

var (
	errMissingIdentity = errors.New("missing identity")
	errInvalidToken    = errors.New("invalid token")
)

// Authenticator 解析上游認證服務簽發的身份
type Authenticator struct {
	jwtEnabled bool
	secret     []byte
	audit      *audit.AuditService
}

// NewAuthenticator 創建身份解析器，jwtEnabled 為 false 時信任網關 Header
func NewAuthenticator(jwtEnabled bool, secret string, auditor *audit.AuditService) *Authenticator {
	return &Authenticator{
		jwtEnabled: jwtEnabled,
		secret:     []byte(secret),
		audit:      auditor,
	}
}

// Resolve 從 Bearer token 或 Header 解析身份
func (a *Authenticator) Resolve(header http.Header, queryToken string) (model.Identity, error) {
	if !a.jwtEnabled {
		who := model.Identity{
			UserID:      strings.TrimSpace(header.Get(HeaderUserID)),
			DisplayName: strings.TrimSpace(header.Get(HeaderUserName)),
			Role:        strings.TrimSpace(header.Get(HeaderUserRole)),
		}
		if who.UserID == "" {
			return model.Identity{}, errMissingIdentity
		}
		if err := ValidateUserID(who.UserID); err != nil {
			return model.Identity{}, err
		}
		return who, nil
	}

	token := bearerToken(header.Get("Authorization"))
	if token == "" {
		token = queryToken
	}
	if token == "" {
		return model.Identity{}, errMissingIdentity
	}
	return a.parseToken(token)
}

func (a *Authenticator) parseToken(raw string) (model.Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Identity{}, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Identity{}, errInvalidToken
	}

	who := model.Identity{
		UserID:      claimString(claims, "sub"),
		DisplayName: claimString(claims, "name"),
		Role:        claimString(claims, "role"),
	}
	if err := ValidateUserID(who.UserID); err != nil {
		return model.Identity{}, errInvalidToken
	}
	return who, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GinMiddleware 要求請求帶有已認證身份，allowQueryToken 用於 WebSocket
func (a *Authenticator) GinMiddleware(allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		queryToken := ""
		if allowQueryToken {
			queryToken = c.Query("token")
		}
		who, err := a.Resolve(c.Request.Header, queryToken)
		if err != nil {
			a.audit.LogAuthenticationFailure(c.Request.Context(), c.GetHeader(HeaderUserID), err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "未提供有效的身份認證",
				"code":       "unauthorized",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}

		c.Set(identityKey, who)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), who))
		c.Next()
	}
}

// WithIdentity 把身份寫入 context
func WithIdentity(ctx context.Context, who model.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, who)
}

// IdentityFrom 從 context 取得身份
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	who, ok := ctx.Value(identityCtxKey{}).(model.Identity)
	return who, ok
}

// GetIdentity 從 gin.Context 取得身份
func GetIdentity(c *gin.Context) model.Identity {
	if v, ok := c.Get(identityKey); ok {
		if who, ok := v.(model.Identity); ok {
			return who
		}
	}
	who, _ := IdentityFrom(c.Request.Context())
	return who
}

// GRPCUnaryInterceptor gRPC 一元攔截器，健康檢查不需要身份
func (a *Authenticator) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "未提供認證信息")
		}
		header := http.Header{}
		for key, values := range md {
			for _, v := range values {
				header.Add(key, v)
			}
		}
		who, err := a.Resolve(header, "")
		if err != nil {
			a.audit.LogAuthenticationFailure(ctx, header.Get(HeaderUserID), err.Error())
			return nil, status.Error(codes.Unauthenticated, "認證失敗")
		}
		return handler(WithIdentity(ctx, who), req)
	}
}
