package monologue

import (
	"context"
	"strings"

	"github.com/hitoshi/serifu/internal/model"
)

const (
	// minWords と maxWords は投稿本文の語数の許容範囲。
	minWords = 30
	maxWords = 1000
)

// Sanitizer は投稿本文のサニタイズ。security.ContentSanitizerServiceが実装する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	SanitizeText(raw string) string
}

// URLValidator は出典URLの事前検証。security.SSRFGuardServiceの部分集合。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Submitter はモノローグ投稿の受付を行う。
type Submitter struct {
	api       API
	sanitizer Sanitizer
	validator URLValidator
}

// NewSubmitter はSubmitterの新しいインスタンスを生成する。
func NewSubmitter(api API, sanitizer Sanitizer, validator URLValidator) *Submitter {
	return &Submitter{
		api:       api,
		sanitizer: sanitizer,
		validator: validator,
	}
}

// CountWords は本文の語数を数える。HTMLタグは数えない。
func (s *Submitter) CountWords(body string) int {
	plain := s.sanitizer.SanitizeText(body)
	return len(strings.Fields(plain))
}

// Validate は投稿を検証する。通過しない場合はネットワーク要求を行わない
// 前提の事前検証で、サーバー往復なしにフォームへエラーを返せる。
func (s *Submitter) Validate(sub model.MonologueSubmission) error {
	if strings.TrimSpace(sub.Title) == "" {
		return model.NewValidationError("タイトルを入力してください")
	}
	if strings.TrimSpace(sub.Body) == "" {
		return model.NewValidationError("本文を入力してください")
	}

	words := s.CountWords(sub.Body)
	if words < minWords {
		return model.NewMonologueTooShortError(words, minWords)
	}
	if words > maxWords {
		return model.NewMonologueTooLongError(words, maxWords)
	}

	if sub.SourceURL != "" {
		if err := s.validator.ValidateURL(sub.SourceURL); err != nil {
			return model.NewInvalidURLError(err.Error())
		}
	}
	return nil
}

// Submit は投稿を検証・サニタイズしてバックエンドへ送る。
func (s *Submitter) Submit(ctx context.Context, sub model.MonologueSubmission) (*model.Monologue, error) {
	if err := s.Validate(sub); err != nil {
		return nil, err
	}

	sub.Body = s.sanitizer.Sanitize(sub.Body)
	sub.Title = s.sanitizer.SanitizeText(sub.Title)

	var created model.Monologue
	if _, err := s.api.Post(ctx, "/api/monologues/submissions", sub, &created, nil); err != nil {
		return nil, err
	}
	return &created, nil
}
