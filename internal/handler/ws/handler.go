package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	chatHandler "github.com/zhouzirui/climate-assistant/backend/internal/handler/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/middleware"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	chatService "github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
	// queueSize bounds the frames waiting behind a running turn.
	queueSize       = 8
)

// Handler WebSocket对话处理器
type Handler struct {
	chatSvc    *chatService.Service
	conditions experiment.Store
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	// pongWait 两次 pong 之间允许的最长间隔，ping 按其一半的周期发送
	pongWait   time.Duration
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, conditions experiment.Store, origins middleware.Origins, logger zerolog.Logger) *Handler {
	return &Handler{
		chatSvc:    chatSvc,
		conditions: conditions,
		logger:     logger.With().Str("component", "websocket").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.CheckRequest,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait: defaultPongWait,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	chatHandler.TurnPayload
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接。读循环只负责读帧和维持心跳，
// 帧交给单个 worker 按顺序处理，长时间的回答不会让读超时触发。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientID(r.Context())
	if clientID == "" {
		http.Error(w, "client id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Info().Str("client", clientID).Msg("new connection")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, "connected", map[string]any{
		"assistant": h.chatSvc.AssistantEnabled(),
	})

	frames := make(chan *inboundMessage, queueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range frames {
			if ctx.Err() != nil {
				continue
			}
			h.handleMessage(ctx, conn, clientID, msg)
		}
	}()

	h.readLoop(ctx, conn, clientID, frames)

	cancel()
	close(frames)
	<-done
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, frames chan<- *inboundMessage) {
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client", clientID).Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		select {
		case frames <- &msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, clientID string, msg *inboundMessage) {
	switch msg.Type {
	case "chat":
		h.handleChat(ctx, conn, clientID, msg.TurnPayload)
	case "history":
		req, err := msg.Request(h.conditions, clientID)
		if err != nil {
			h.sendError(conn, err.Error(), nil)
			return
		}
		h.send(conn, "history", map[string]any{
			"messages": h.chatSvc.History(clientID, req.Config, req.DisplayName),
		})
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type, nil)
	}
}

func (h *Handler) handleChat(ctx context.Context, conn *websocket.Conn, clientID string, payload chatHandler.TurnPayload) {
	req, err := payload.Request(h.conditions, clientID)
	if err != nil {
		h.sendError(conn, err.Error(), nil)
		return
	}

	h.send(conn, "pending", nil)

	result, err := h.chatSvc.Turn(ctx, req)
	if err != nil {
		var history interface{}
		if errors.Is(err, chatService.ErrAssistantUnavailable) {
			history = result.History
		}
		h.sendError(conn, chatService.UserFacingError(err), history)
		return
	}

	h.send(conn, "answer", result)
}

// send 只在 worker 和连接建立时调用，同一时刻只有一个写入者
func (h *Handler) send(conn *websocket.Conn, kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Str("type", kind).Msg("write failed")
	}
}

func (h *Handler) sendError(conn *websocket.Conn, message string, history interface{}) {
	data := map[string]any{"message": message}
	if history != nil {
		data["history"] = history
	}
	h.send(conn, "error", data)
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pongWait / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl may run concurrently with the worker's writes.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
