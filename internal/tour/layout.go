package tour

// Placement はツールチップの縦方向の配置。
type Placement string

const (
	PlacementTop    Placement = "top"
	PlacementBottom Placement = "bottom"
)

const (
	// tooltipGap はターゲットとツールチップの間隔。
	tooltipGap = 12.0
	// viewportMargin はビューポート端からの最小余白。
	viewportMargin = 16.0
)

// Size は幅と高さの組。
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point はツールチップの左上座標。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// tooltipPosition はターゲット矩形に対するツールチップ位置を計算する。
// 横方向はターゲット中央に揃えた上でビューポート余白内にクランプし、
// 縦方向はplacementに従ってターゲットの上または下に間隔を空けて置く。
func tooltipPosition(target Rect, viewport, tooltip Size, placement Placement) Point {
	x := target.X + target.Width/2 - tooltip.Width/2
	if max := viewport.Width - tooltip.Width - viewportMargin; x > max {
		x = max
	}
	if x < viewportMargin {
		x = viewportMargin
	}

	var y float64
	switch placement {
	case PlacementTop:
		y = target.Y - tooltip.Height - tooltipGap
	default:
		y = target.Y + target.Height + tooltipGap
	}

	return Point{X: x, Y: y}
}

// centeredPosition はフォールバック用のビューポート中央の位置を返す。
func centeredPosition(viewport, tooltip Size) Point {
	return Point{
		X: (viewport.Width - tooltip.Width) / 2,
		Y: (viewport.Height - tooltip.Height) / 2,
	}
}
