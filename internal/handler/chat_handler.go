package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"zhiwen-go/internal/middleware"
	"zhiwen-go/internal/model"
	"zhiwen-go/internal/service"
	"zhiwen-go/pkg/log"
	"zhiwen-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责把会话事件流转发给客户端, 支持 SSE 与 WebSocket 两种传输。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

type chatRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

// Chat 处理 POST /api/v1/chat, 以 SSE 帧转发事件流。
func (h *ChatHandler) Chat(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 thread_id 或 message"})
		return
	}

	events, err := h.chatService.Stream(c.Request.Context(), userID, req.ThreadID, req.Message)
	if err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "线程不存在"})
			return
		}
		log.Errorf("[ChatHandler] 启动对话流失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "启动对话失败"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	flusher, _ := c.Writer.(http.Flusher)
	for ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			log.Errorf("[ChatHandler] 序列化事件失败: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Event, data); err != nil {
			// 客户端断开, ctx 取消会让生产者停止并关闭 channel
			log.Infof("[ChatHandler] SSE 客户端已断开: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type wsChatMessage struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// HandleWS 处理 GET /ws/chat/:token 的 WebSocket 连接。
// 每收到一条消息执行一轮对话, 事件以 {"event":..,"data":..} JSON 帧下发。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
		return
	}
	userID := claims.UserID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, 用户: %s", userID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var msg wsChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.ThreadID == "" || msg.Message == "" {
			h.writeWSEvent(conn, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: "invalid chat message"}})
			continue
		}

		events, err := h.chatService.Stream(c.Request.Context(), userID, msg.ThreadID, msg.Message)
		if err != nil {
			h.writeWSEvent(conn, model.StreamEvent{Event: model.EventError, Data: model.ErrorData{Error: "thread not found"}})
			continue
		}

		for ev := range events {
			if err := h.writeWSEvent(conn, ev); err != nil {
				log.Warnf("[ChatHandler] 写 WebSocket 事件失败: %v", err)
				return
			}
		}
	}
}

func (h *ChatHandler) writeWSEvent(conn *websocket.Conn, ev model.StreamEvent) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
