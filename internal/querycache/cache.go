// Package querycache はモノローグ一覧・詳細のセッション内キャッシュを提供する。
// お気に入りトグルの楽観的更新のために、複数スロットへの横断パッチ、
// ロールバック用スナップショット、選択的な失効、進行中の再取得の
// キャンセルをサポートする。
package querycache

import (
	"context"
	"strconv"
	"sync"

	"github.com/hitoshi/serifu/internal/model"
)

// 一覧スロット名。スロットはクエリキーに相当し、同じモノローグが
// 複数のスロットに同時に現れうる。
const (
	SlotBookmarks           = "bookmarks"
	SlotRecommendations     = "recommendations"
	SlotRecommendationsFast = "recommendations_fast"
	SlotDiscover            = "discover"
	SlotSearch              = "search"
)

// listSlots は横断パッチの対象となる一覧スロットの既定集合。
var listSlots = []string{
	SlotBookmarks,
	SlotRecommendations,
	SlotRecommendationsFast,
	SlotDiscover,
	SlotSearch,
}

// Snapshot はロールバック用に採取したキャッシュの複製。
type Snapshot struct {
	lists   map[string][]model.Monologue
	details map[int64]*model.Monologue
}

// Cache はブラウザセッション1つ分のクエリキャッシュ。
type Cache struct {
	mu      sync.Mutex
	lists   map[string][]model.Monologue
	details map[int64]*model.Monologue
	stale   map[string]bool

	// refetches はスロットごとの進行中の再取得のキャンセル関数。
	refetches map[string]context.CancelFunc
}

// New は空のCacheを生成する。
func New() *Cache {
	return &Cache{
		lists:     make(map[string][]model.Monologue),
		details:   make(map[int64]*model.Monologue),
		stale:     make(map[string]bool),
		refetches: make(map[string]context.CancelFunc),
	}
}

// SetList は一覧スロットを丸ごと置き換え、失効フラグを下ろす。
func (c *Cache) SetList(slot string, items []model.Monologue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[slot] = append([]model.Monologue(nil), items...)
	delete(c.stale, slot)
}

// HasList は一覧スロットが設定済みかを返す。
// 空の検索結果も「設定済み」として扱う。
func (c *Cache) HasList(slot string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lists[slot]
	return ok
}

// List は一覧スロットの複製を返す。未設定ならnil。
func (c *Cache) List(slot string) []model.Monologue {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.lists[slot]
	if !ok {
		return nil
	}
	return append([]model.Monologue(nil), items...)
}

// SetDetail は詳細エントリを設定し、失効フラグを下ろす。
func (c *Cache) SetDetail(m *model.Monologue) {
	if m == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *m
	c.details[m.ID] = &clone
	delete(c.stale, detailKey(m.ID))
}

// Detail は詳細エントリの複製を返す。未設定ならnil。
func (c *Cache) Detail(id int64) *model.Monologue {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.details[id]
	if !ok {
		return nil
	}
	clone := *m
	return &clone
}

// Find はキャッシュ全体から指定IDのモノローグを探す。
// 詳細エントリを優先し、なければ一覧スロットを走査する。
func (c *Cache) Find(id int64) *model.Monologue {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.details[id]; ok {
		clone := *m
		return &clone
	}
	for _, slot := range listSlots {
		for i := range c.lists[slot] {
			if c.lists[slot][i].ID == id {
				clone := c.lists[slot][i]
				return &clone
			}
		}
	}
	return nil
}

// Patch は指定IDのモノローグを全スロット横断で書き換える。
// fnは見つかった各エントリの複製に対して呼ばれ、falseを返すと
// そのエントリを一覧から取り除く（詳細エントリは常に残す）。
// パッチが適用されたエントリ数を返す。
func (c *Cache) Patch(id int64, fn func(m *model.Monologue) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	patched := 0
	for _, slot := range listSlots {
		items, ok := c.lists[slot]
		if !ok {
			continue
		}
		out := items[:0]
		for i := range items {
			if items[i].ID != id {
				out = append(out, items[i])
				continue
			}
			clone := items[i]
			if fn(&clone) {
				out = append(out, clone)
			}
			patched++
		}
		c.lists[slot] = out
	}

	if m, ok := c.details[id]; ok {
		clone := *m
		fn(&clone) // 詳細は除去せず内容だけ更新する
		c.details[id] = &clone
		patched++
	}
	return patched
}

// Remove は指定の一覧スロットからエントリを取り除く。他のスロットは触らない。
func (c *Cache) Remove(slot string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.lists[slot]
	if !ok {
		return
	}
	out := items[:0]
	for i := range items {
		if items[i].ID != id {
			out = append(out, items[i])
		}
	}
	c.lists[slot] = out
}

// Prepend は一覧スロットの先頭にエントリを挿入する。
// 同じIDが既にあれば何もしない。お気に入り追加時に
// ブックマーク一覧へ合成行を差し込むために使う。
func (c *Cache) Prepend(slot string, m model.Monologue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.lists[slot]
	if !ok {
		// スロット未取得ならキャッシュを捏造しない。次の取得に任せる。
		return
	}
	for i := range items {
		if items[i].ID == m.ID {
			return
		}
	}
	c.lists[slot] = append([]model.Monologue{m}, items...)
}

// Take はロールバック用のスナップショットを採取する。
func (c *Cache) Take() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		lists:   make(map[string][]model.Monologue, len(c.lists)),
		details: make(map[int64]*model.Monologue, len(c.details)),
	}
	for slot, items := range c.lists {
		snap.lists[slot] = append([]model.Monologue(nil), items...)
	}
	for id, m := range c.details {
		clone := *m
		snap.details[id] = &clone
	}
	return snap
}

// Restore はスナップショット時点の内容へ巻き戻す。
// スナップショット後に設定された失効フラグは維持する。
func (c *Cache) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lists = make(map[string][]model.Monologue, len(snap.lists))
	for slot, items := range snap.lists {
		c.lists[slot] = append([]model.Monologue(nil), items...)
	}
	c.details = make(map[int64]*model.Monologue, len(snap.details))
	for id, m := range snap.details {
		clone := *m
		c.details[id] = &clone
	}
}

// MarkStale はスロットに失効フラグを立てる。内容は保持したまま、
// 次回アクセス時の再取得を促す。
func (c *Cache) MarkStale(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[slot] = true
}

// MarkDetailStale は詳細エントリに失効フラグを立てる。
func (c *Cache) MarkDetailStale(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[detailKey(id)] = true
}

// IsStale はスロットの失効フラグを返す。
func (c *Cache) IsStale(slot string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[slot]
}

// IsDetailStale は詳細エントリの失効フラグを返す。
func (c *Cache) IsDetailStale(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[detailKey(id)]
}

// BeginRefetch はスロットの再取得開始を登録し、取得処理に渡すcontextを返す。
// 同じスロットの進行中の再取得があれば先にキャンセルする。
func (c *Cache) BeginRefetch(ctx context.Context, slot string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.refetches[slot]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.refetches[slot] = cancel
	return ctx
}

// EndRefetch は再取得の完了を登録する。
func (c *Cache) EndRefetch(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.refetches[slot]; ok {
		cancel()
		delete(c.refetches, slot)
	}
}

// CancelRefetches は進行中の再取得をすべてキャンセルする。
// 楽観的パッチを古いレスポンスで上書きされないようにするために呼ぶ。
func (c *Cache) CancelRefetches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot, cancel := range c.refetches {
		cancel()
		delete(c.refetches, slot)
	}
}

func detailKey(id int64) string {
	// 一覧スロット名と衝突しない内部キー
	return "detail:" + strconv.FormatInt(id, 10)
}
