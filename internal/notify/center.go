// Package notify はブラウザセッションごとの通知センターを提供する。
// 操作結果のトースト通知を蓄積し、クライアントのポーリングで排出する。
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind は通知の種別。
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// maxPending は未排出の通知の上限。超えた分は古いものから捨てる。
const maxPending = 32

// Notification は1件の通知。
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	UndoLabel string    `json:"undo_label,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	undo func()
}

// Center は通知の蓄積と排出を行う。セッションごとに1つ生成する。
type Center struct {
	mu      sync.Mutex
	pending []Notification
	undos   map[string]func()
}

// NewCenter はCenterを生成する。
func NewCenter() *Center {
	return &Center{undos: make(map[string]func())}
}

// Success は成功通知を追加する。
func (c *Center) Success(message string) {
	c.push(Notification{Kind: KindSuccess, Message: message})
}

// SuccessWithUndo は取り消しアクション付きの成功通知を追加する。
// undoはUndo()が呼ばれたときに一度だけ実行される。
func (c *Center) SuccessWithUndo(message, undoLabel string, undo func()) {
	c.push(Notification{
		Kind:      KindSuccess,
		Message:   message,
		UndoLabel: undoLabel,
		undo:      undo,
	})
}

// Error はエラー通知を追加する。
func (c *Center) Error(message string) {
	c.push(Notification{Kind: KindError, Message: message})
}

// Info は情報通知を追加する。
func (c *Center) Info(message string) {
	c.push(Notification{Kind: KindInfo, Message: message})
}

func (c *Center) push(n Notification) {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if n.undo != nil {
		c.undos[n.ID] = n.undo
	}
	c.pending = append(c.pending, n)
	if len(c.pending) > maxPending {
		dropped := c.pending[0]
		delete(c.undos, dropped.ID)
		c.pending = c.pending[1:]
	}
}

// Drain は未排出の通知をすべて返し、キューを空にする。
// 取り消しアクションは排出後もUndo()で実行できるよう保持する。
func (c *Center) Drain() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Undo は通知IDに紐づく取り消しアクションを一度だけ実行する。
// 未知のIDや実行済みの場合はfalseを返す。
func (c *Center) Undo(id string) bool {
	c.mu.Lock()
	undo, ok := c.undos[id]
	if ok {
		delete(c.undos, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	undo()
	return true
}
