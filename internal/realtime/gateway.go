package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"messaging-gateway/internal/constants"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/platform/logger"
)

// MembershipChecker 會話成員檢查
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Options 網關參數
type Options struct {
	SendBuffer      int
	DispatchQueue   int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = constants.DefaultSendBuffer
	}
	if o.DispatchQueue <= 0 {
		o.DispatchQueue = constants.DefaultDispatchQueue
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = constants.DefaultWriteTimeout * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = constants.DefaultPingInterval * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = constants.DefaultMaxWSMessageBytes
	}
	return o
}

// Stats 網關統計
type Stats struct {
	Connections   int    `json:"connections"`
	Scopes        int    `json:"scopes"`
	Dispatched    uint64 `json:"dispatched"`
	DroppedQueue  uint64 `json:"dropped_queue"`
	DroppedClient uint64 `json:"dropped_client"`
}

// Gateway 即時推送網關，持有訂閱表
type Gateway struct {
	opts       Options
	membership MembershipChecker
	broker     Broker

	mu      sync.RWMutex
	clients map[string]Client
	subs    map[Scope]map[string]Client
	scopes  map[string]map[Scope]struct{}

	queue         chan Delivery
	dispatched    atomic.Uint64
	droppedQueue  atomic.Uint64
	droppedClient atomic.Uint64
}

// NewGateway 創建網關，broker 為 nil 時使用進程內代理
func NewGateway(membership MembershipChecker, broker Broker, opts Options) *Gateway {
	opts = opts.withDefaults()
	if broker == nil {
		broker = NewLocalBroker()
	}
	return &Gateway{
		opts:       opts,
		membership: membership,
		broker:     broker,
		clients:    make(map[string]Client),
		subs:       make(map[Scope]map[string]Client),
		scopes:     make(map[string]map[Scope]struct{}),
		queue:      make(chan Delivery, opts.DispatchQueue),
	}
}

// Options 返回生效的參數
func (g *Gateway) Options() Options {
	return g.opts
}

// Run 啟動代理訂閱與分發循環，直到 ctx 結束
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.broker.Subscribe(ctx, g.deliverLocal); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return g.broker.Close()
		case d := <-g.queue:
			if err := g.broker.Publish(ctx, d); err != nil {
				logger.Warning(ctx, "即時事件發布失敗",
					logger.WithDetails(map[string]interface{}{"scope": d.Scope.String(), "error": err.Error()}))
				continue
			}
			g.dispatched.Add(1)
		}
	}
}

// Register 登記連接並訂閱其用戶範圍
func (g *Gateway) Register(c Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clients[c.ID()] = c
	g.scopes[c.ID()] = make(map[Scope]struct{})
	g.subscribeLocked(c, UserScope(c.UserID()))
}

// Unregister 移除連接及其全部訂閱
func (g *Gateway) Unregister(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for scope := range g.scopes[connID] {
		g.unsubscribeLocked(connID, scope)
	}
	delete(g.scopes, connID)
	delete(g.clients, connID)
}

// Join 把連接加入範圍
func (g *Gateway) Join(connID string, scope Scope) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.clients[connID]
	if !ok {
		return false
	}
	g.subscribeLocked(c, scope)
	return true
}

// Leave 把連接移出範圍
func (g *Gateway) Leave(connID string, scope Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubscribeLocked(connID, scope)
}

// Subscribed 連接是否已訂閱範圍
func (g *Gateway) Subscribed(connID string, scope Scope) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.scopes[connID][scope]
	return ok
}

// Subscribers 範圍內的連接數
func (g *Gateway) Subscribers(scope Scope) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs[scope])
}

func (g *Gateway) subscribeLocked(c Client, scope Scope) {
	members, ok := g.subs[scope]
	if !ok {
		members = make(map[string]Client)
		g.subs[scope] = members
	}
	members[c.ID()] = c
	if owned, ok := g.scopes[c.ID()]; ok {
		owned[scope] = struct{}{}
	}
}

func (g *Gateway) unsubscribeLocked(connID string, scope Scope) {
	if members, ok := g.subs[scope]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(g.subs, scope)
		}
	}
	if owned, ok := g.scopes[connID]; ok {
		delete(owned, scope)
	}
}

// Stats 返回統計
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Connections:   len(g.clients),
		Scopes:        len(g.subs),
		Dispatched:    g.dispatched.Load(),
		DroppedQueue:  g.droppedQueue.Load(),
		DroppedClient: g.droppedClient.Load(),
	}
}

// deliverLocal 把事件寫入本實例的訂閱者
func (g *Gateway) deliverLocal(d Delivery) {
	g.mu.RLock()
	targets := make([]Client, 0, len(g.subs[d.Scope]))
	for id, c := range g.subs[d.Scope] {
		if id != d.Except {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(d.Payload) {
			g.droppedClient.Add(1)
		}
	}
}

// emit 編碼並排入分發佇列，佇列滿時丟棄
func (g *Gateway) emit(scope Scope, except, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		logger.Errorf(context.Background(), "即時事件編碼失敗: %s: %v", event, err)
		return
	}
	select {
	case g.queue <- Delivery{Scope: scope, Payload: payload, Except: except}:
	default:
		g.droppedQueue.Add(1)
		logger.Warning(context.Background(), "即時分發佇列已滿，丟棄事件",
			logger.WithDetails(map[string]interface{}{"event": event, "scope": scope.String()}))
	}
}

// EmitNewMessage 推送新訊息到會話範圍
func (g *Gateway) EmitNewMessage(conversationID string, message model.MessageView) {
	g.emit(ConversationScope(conversationID), "", EventNewMessage, MessageEvent{ConversationID: conversationID, Message: message})
}

// EmitReadReceipt 推送已讀事件到會話範圍
func (g *Gateway) EmitReadReceipt(conversationID, readerID string, readAt time.Time) {
	g.emit(ConversationScope(conversationID), "", EventMessagesSeen, map[string]any{
		"conversation_id": conversationID,
		"user_id":         readerID,
		"read_at":         readAt,
	})
}

// EmitMessageEdited 推送訊息修改
func (g *Gateway) EmitMessageEdited(conversationID string, message model.MessageView) {
	g.emit(ConversationScope(conversationID), "", EventMessageEdited, MessageEvent{ConversationID: conversationID, Message: message})
}

// EmitMessageDeleted 推送訊息刪除
func (g *Gateway) EmitMessageDeleted(conversationID, messageID string, deletedAt time.Time) {
	g.emit(ConversationScope(conversationID), "", EventMessageDeleted, map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"deleted_at":      deletedAt,
	})
}

// EmitNotification 推送新通知到用戶範圍
func (g *Gateway) EmitNotification(userID string, n model.Notification) {
	g.emit(UserScope(userID), "", EventNewNotification, NotificationEvent{Payload: n})
}

// HandleControl 處理客戶端控制事件
func (g *Gateway) HandleControl(ctx context.Context, c Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.reply(c, EventError, errorData{Message: "invalid event"})
		return
	}

	switch env.Event {
	case ControlJoin:
		var data joinData
		_ = json.Unmarshal(env.Data, &data)
		if data.UserID != "" && data.UserID != c.UserID() {
			g.reply(c, EventError, errorData{Message: "user_id does not match authenticated user"})
			return
		}
		g.Join(c.ID(), UserScope(c.UserID()))
		g.reply(c, EventJoined, UserScope(c.UserID()))

	case ControlJoinConversation:
		data, ok := g.conversationArg(c, env.Data)
		if !ok {
			return
		}
		member, err := g.isMember(ctx, data.ConversationID, c.UserID())
		if err != nil {
			logger.Warning(ctx, "檢查會話成員失敗",
				logger.WithUserID(c.UserID()),
				logger.WithConversationID(data.ConversationID),
				logger.WithConnectionID(c.ID()),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			g.reply(c, EventError, errorData{Message: "membership check failed"})
			return
		}
		if !member {
			g.reply(c, EventError, errorData{Message: "not a participant of this conversation"})
			return
		}
		scope := ConversationScope(data.ConversationID)
		g.Join(c.ID(), scope)
		g.reply(c, EventJoined, scope)

	case ControlLeaveConversation:
		data, ok := g.conversationArg(c, env.Data)
		if !ok {
			return
		}
		g.Leave(c.ID(), ConversationScope(data.ConversationID))

	case ControlTyping, ControlStopTyping:
		data, ok := g.conversationArg(c, env.Data)
		if !ok {
			return
		}
		scope := ConversationScope(data.ConversationID)
		if !g.Subscribed(c.ID(), scope) {
			g.reply(c, EventError, errorData{Message: "join the conversation first"})
			return
		}
		event := EventUserTyping
		if env.Event == ControlStopTyping {
			event = EventUserStopTyping
		}
		g.emit(scope, c.ID(), event, typingData{ConversationID: data.ConversationID, UserID: c.UserID()})

	default:
		g.reply(c, EventError, errorData{Message: "unsupported event"})
	}
}

func (g *Gateway) conversationArg(c Client, raw json.RawMessage) (conversationData, bool) {
	var data conversationData
	if err := json.Unmarshal(raw, &data); err != nil || data.ConversationID == "" {
		g.reply(c, EventError, errorData{Message: "conversation_id is required"})
		return data, false
	}
	return data, true
}

func (g *Gateway) isMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if g.membership == nil {
		return false, nil
	}
	return g.membership.IsParticipant(ctx, conversationID, userID)
}

func (g *Gateway) reply(c Client, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		return
	}
	if !c.Send(payload) {
		g.droppedClient.Add(1)
	}
}
