package tour

// StepsFor は定義済みツアーのステップ列を返す。
// 未定義のツアー名にはfalseを返す。
func StepsFor(name string) ([]Step, bool) {
	switch name {
	case TourSearch:
		return []Step{
			{
				TargetID:  "search-input",
				Title:     "モノローグを検索",
				Body:      "ジャンルやトーン、長さでぴったりのセリフを探せます。",
				Placement: PlacementBottom,
			},
			{
				TargetID:  "search-filters",
				Title:     "絞り込み",
				Body:      "オーディションの持ち時間に合わせて語数で絞り込めます。",
				Placement: PlacementBottom,
			},
			{
				TargetID:  "favorite-button",
				Title:     "お気に入り",
				Body:      "気になったモノローグはハートで保存。あとでまとめて見返せます。",
				Placement: PlacementTop,
			},
		}, true
	case TourProfile:
		return []Step{
			{
				TargetID:  "profile-menu",
				Title:     "プロフィール",
				Body:      "アカウント情報とプランの管理はここから。",
				Placement: PlacementBottom,
			},
			{
				TargetID:  "usage-panel",
				Title:     "利用状況",
				Body:      "今月の検索回数と残り枠を確認できます。",
				Placement: PlacementTop,
			},
		}, true
	}
	return nil, false
}
