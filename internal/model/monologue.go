package model

import "time"

// Monologue は検索・推薦・ブックマークの各リストに現れるモノローグを表す。
// BodyはAPI応答時点でサニタイズ済みのHTML。
type Monologue struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Character     string    `json:"character"`
	Play          string    `json:"play"`
	Author        string    `json:"author"`
	Genre         string    `json:"genre,omitempty"`
	Tone          string    `json:"tone,omitempty"`
	WordCount     int       `json:"word_count"`
	Excerpt       string    `json:"excerpt,omitempty"`
	Body          string    `json:"body,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	IsFavorited   bool      `json:"is_favorited"`
	FavoriteCount int       `json:"favorite_count"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

// MonologueSubmission はユーザーが投稿するモノローグの入力値を表す。
// バリデーションとサニタイズを通過した後にバックエンドへPOSTされる。
type MonologueSubmission struct {
	Title     string `json:"title"`
	Character string `json:"character"`
	Play      string `json:"play"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	SourceURL string `json:"source_url,omitempty"`
}
