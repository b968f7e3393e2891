package tour

import "testing"

func TestTooltipPosition(t *testing.T) {
	viewport := Size{Width: 1280, Height: 800}
	tooltip := Size{Width: 320, Height: 180}

	tests := []struct {
		name      string
		target    Rect
		placement Placement
		wantX     float64
		wantY     float64
	}{
		{
			name:      "ターゲット中央に揃えて下へ",
			target:    Rect{X: 400, Y: 100, Width: 200, Height: 50},
			placement: PlacementBottom,
			wantX:     340, // 400+100-160
			wantY:     162, // 100+50+12
		},
		{
			name:      "上配置は間隔ぶん持ち上げる",
			target:    Rect{X: 400, Y: 400, Width: 200, Height: 50},
			placement: PlacementTop,
			wantX:     340,
			wantY:     208, // 400-180-12
		},
		{
			name:      "左端はマージンでクランプ",
			target:    Rect{X: 0, Y: 100, Width: 40, Height: 40},
			placement: PlacementBottom,
			wantX:     16,
			wantY:     152,
		},
		{
			name:      "右端はマージンでクランプ",
			target:    Rect{X: 1240, Y: 100, Width: 40, Height: 40},
			placement: PlacementBottom,
			wantX:     944, // 1280-320-16
			wantY:     152,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tooltipPosition(tt.target, viewport, tooltip, tt.placement)
			if got.X != tt.wantX || got.Y != tt.wantY {
				t.Errorf("position = %+v, want {%v %v}", got, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestCenteredPosition(t *testing.T) {
	got := centeredPosition(Size{Width: 1280, Height: 800}, Size{Width: 320, Height: 180})
	if got.X != 480 || got.Y != 310 {
		t.Errorf("position = %+v, want {480 310}", got)
	}
}
