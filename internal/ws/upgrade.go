package ws

import (
	"net/http"
	"strconv"
	"time"

	"schoolpay/config"
	"schoolpay/internal/auth"
	"schoolpay/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UpgradePaymentWS streams payment status events for one student. Browsers
// cannot set headers on websocket requests, so the JWT comes in ?token=.
// Admins pass ?student_id= to watch a student of their own tenant.
func UpgradePaymentWS(cfg *config.JWTConfig, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseAccessToken(cfg, c.Query("token"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		studentID := claims.StudentID
		if claims.Role == domain.RoleAdmin {
			id, _ := strconv.ParseUint(c.Query("student_id"), 10, 64)
			studentID = uint(id)
		}
		if studentID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no student to watch"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		client := NewClient(claims.TenantID, studentID)
		hub.Register(client)
		defer client.Close()
		go writePump(client, conn)
		readPump(conn)
	}
}

// writePump copies messages from client.Send to the connection.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames until the connection closes; the stream is
// server-to-client only.
func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
