package automation

import (
	"math"

	"cdpstealth/pkg/domain"
)

// quadBounds 取四个角点的最小/最大值得到轴对齐外接矩形，变换后的元素也能得到正确范围
func quadBounds(q []float64) (domain.Rect, bool) {
	if len(q) < 8 {
		return domain.Rect{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < 8; i += 2 {
		x, y := q[i], q[i+1]
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	r := domain.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	return r, !r.Empty()
}

// quadCenter 四个角点的平均值
func quadCenter(q []float64) domain.Point {
	var p domain.Point
	if len(q) < 8 {
		return p
	}
	for i := 0; i < 8; i += 2 {
		p.X += q[i]
		p.Y += q[i+1]
	}
	p.X /= 4
	p.Y /= 4
	return p
}
