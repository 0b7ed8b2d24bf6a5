package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DestinationHeader 请求方的通知地址，如 "telegram:12345"。
const DestinationHeader = "X-Destination"

const destinationKey = "destination"

// RequireDestination 读取通知地址并写入上下文。
//
// 优先使用请求头，其次使用 destination 查询参数；两者都没有时返回 401。
func RequireDestination() gin.HandlerFunc {
	return func(c *gin.Context) {
		dest := strings.TrimSpace(c.GetHeader(DestinationHeader))
		if dest == "" {
			dest = strings.TrimSpace(c.Query("destination"))
		}
		if dest == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing destination"})
			c.Abort()
			return
		}
		if strings.ContainsAny(dest, " \t\r\n") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
			c.Abort()
			return
		}
		c.Set(destinationKey, dest)
		c.Next()
	}
}

// Destination 返回 RequireDestination 写入的通知地址。
func Destination(c *gin.Context) string {
	return c.GetString(destinationKey)
}
