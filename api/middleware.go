package api

import (
	"net/http"
	"strings"
	"studiobook/db"
	"studiobook/service/security"
	"studiobook/util"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const claimsKey = "claims"

// CORS middleware
func (server *Server) CORSMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		// Handle preflight and return immediately so Gin doesn't respond 404 for OPTIONS
		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusOK)
			return
		}

		ctx.Next()
	}
}

// Auth middleware: requires a valid access token in the Authorization header
func (server *Server) AuthMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{"Unauthorized access"})
			return
		}

		claims, err := server.jwtService.VerifyToken(token)
		if err != nil || claims.TokenType != security.AccessToken {
			util.LOGGER.Warn("invalid access token", "path", ctx.FullPath(), "error", err)
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{"Invalid token"})
			return
		}

		ctx.Set(claimsKey, claims)
		ctx.Next()
	}
}

// Role middleware, must run after AuthMiddleware
func (server *Server) RequireRole(roles ...db.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		for _, role := range roles {
			if claims != nil && claims.Role == role {
				ctx.Next()
				return
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{"You don't have permission to perform this request"})
	}
}

// Claims of the authenticated user, nil outside AuthMiddleware
func getClaims(ctx *gin.Context) *security.CustomClaims {
	value, ok := ctx.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*security.CustomClaims)
	return claims
}

// RateLimiter hands out one token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// A rate of 0 or less disables limiting
func NewRateLimiter(perSecond float64) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    int(perSecond*2) + 1,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

func (server *Server) RateLimitMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !server.limiter.Allow(ctx.ClientIP()) {
			util.LOGGER.Warn("rate limit exceeded", "path", ctx.FullPath(), "ip", ctx.ClientIP())
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{"Rate limit exceeded"})
			return
		}
		ctx.Next()
	}
}
