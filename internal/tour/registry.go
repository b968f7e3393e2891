// Package tour はガイドツアーの状態機械を実装する。
// ツアーの各ステップは名前付きUIターゲットに紐づき、ターゲットの
// 画面上の矩形はUI側がレジストリへ登録する。ターゲット未登録の
// ステップは中央表示のフォールバックモードで進行する。
package tour

import "sync"

// Rect はビューポート座標系の矩形。
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Registry はUIターゲットの矩形の登録簿。セッションごとに1つ生成する。
// UIコンポーネントが自身の表示領域を文字列キーで登録し、
// ツアーエンジンがステップ進行時に参照する。
type Registry struct {
	mu      sync.Mutex
	targets map[string]Rect
}

// NewRegistry はRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Rect)}
}

// Register はターゲットの矩形を登録する。既存キーは上書きされる。
func (r *Registry) Register(key string, rect Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[key] = rect
}

// Unregister はターゲットを取り除く。
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, key)
}

// Lookup はターゲットの矩形を返す。未登録ならfalse。
func (r *Registry) Lookup(key string) (Rect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rect, ok := r.targets[key]
	return rect, ok
}
