package model

import "time"

// Subscription は /api/subscriptions/me から取得するサブスクリプション状態。
type Subscription struct {
	Plan       string     `json:"plan"`
	Status     string     `json:"status"`
	RenewsAt   *time.Time `json:"renews_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}

// Usage は現在の課金期間における利用量を表す。
type Usage struct {
	SearchesUsed  int       `json:"searches_used"`
	SearchLimit   int       `json:"search_limit"`
	AnalysesUsed  int       `json:"analyses_used"`
	AnalysisLimit int       `json:"analysis_limit"`
	PeriodEnd     time.Time `json:"period_end"`
}

// BillingEntry は課金履歴の1行を表す。
type BillingEntry struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	InvoiceURL  string    `json:"invoice_url,omitempty"`
}
