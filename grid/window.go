package grid

import "math"

// ComputeWindow maps a scroll offset onto the contiguous index range that
// must be live. It is a pure function: identical inputs always produce
// identical windows, and the returned range size depends only on the
// viewport geometry, never on totalCount.
//
// Offsets beyond the content clamp to the last valid window; an empty
// dataset produces an empty window.
func ComputeWindow(g Geometry, scrollOffset float32, totalCount, bufferRows int) (Window, error) {
	if err := validateGeometry(g); err != nil {
		return Window{}, err
	}
	if totalCount < 0 {
		return Window{}, configErrorf("totalCount %d is negative", totalCount)
	}
	if bufferRows < 0 {
		return Window{}, configErrorf("bufferRows %d is negative", bufferRows)
	}
	if totalCount == 0 {
		return Window{Start: 0, End: -1}, nil
	}

	stepY := g.ItemHeight + g.Padding
	maxRow := (totalCount - 1) / g.Columns

	if max := MaxScrollOffset(g, totalCount); scrollOffset > max {
		scrollOffset = max
	}
	if scrollOffset < 0 {
		scrollOffset = 0
	}

	// First and last rows whose item band intersects the viewport. Rows
	// occupy [row*stepY, row*stepY+ItemHeight); the padding gap below a row
	// belongs to no row.
	firstRow := int(scrollOffset / stepY)
	if float32(firstRow)*stepY+g.ItemHeight <= scrollOffset {
		firstRow++
	}
	lastRow := int((scrollOffset + g.ViewportHeight) / stepY)
	if float32(lastRow)*stepY >= scrollOffset+g.ViewportHeight {
		lastRow--
	}

	if firstRow < 0 {
		firstRow = 0
	}
	if firstRow > maxRow {
		firstRow = maxRow
	}
	if lastRow > maxRow {
		lastRow = maxRow
	}
	if lastRow < firstRow {
		lastRow = firstRow
	}

	start := firstRow * g.Columns
	end := lastRow*g.Columns + g.Columns - 1
	if end > totalCount-1 {
		end = totalCount - 1
	}

	before := bufferRows * g.Columns
	if before > start {
		before = start
	}
	after := bufferRows * g.Columns
	if after > totalCount-1-end {
		after = totalCount - 1 - end
	}

	return Window{Start: start, End: end, BufferBefore: before, BufferAfter: after}, nil
}

func validateGeometry(g Geometry) error {
	if g.ItemWidth <= 0 || g.ItemHeight <= 0 {
		return configErrorf("item extent %gx%g must be positive", g.ItemWidth, g.ItemHeight)
	}
	if g.Padding < 0 {
		return configErrorf("padding %g is negative", g.Padding)
	}
	if g.Columns < 1 {
		return configErrorf("column count %d must be >= 1", g.Columns)
	}
	return nil
}

// RowCount returns how many rows totalCount items occupy.
func RowCount(totalCount, columns int) int {
	if totalCount <= 0 || columns < 1 {
		return 0
	}
	return (totalCount + columns - 1) / columns
}

// ContentHeight is the full scrollable height of the item area.
func ContentHeight(g Geometry, totalCount int) float32 {
	rows := RowCount(totalCount, g.Columns)
	if rows == 0 {
		return 0
	}
	return float32(rows)*(g.ItemHeight+g.Padding) - g.Padding
}

// MaxScrollOffset is the largest offset that still shows a full viewport of
// content. Zero when everything fits.
func MaxScrollOffset(g Geometry, totalCount int) float32 {
	max := ContentHeight(g, totalCount) - g.ViewportHeight
	if max < 0 {
		return 0
	}
	return max
}

// OffsetForIndex returns the smallest scroll adjustment from current that
// makes index fully visible. Indices outside [0, totalCount) clamp to the
// nearest valid row.
func OffsetForIndex(g Geometry, current float32, index, totalCount int) float32 {
	if totalCount == 0 || g.Columns < 1 {
		return 0
	}
	if index < 0 {
		index = 0
	}
	if index > totalCount-1 {
		index = totalCount - 1
	}

	stepY := g.ItemHeight + g.Padding
	top := float32(index/g.Columns) * stepY
	bottom := top + g.ItemHeight

	offset := current
	if top < offset {
		offset = top
	} else if bottom > offset+g.ViewportHeight {
		offset = bottom - g.ViewportHeight
	}

	if max := MaxScrollOffset(g, totalCount); offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// PoolSize is the fixed render-slot count needed to cover the worst-case
// window for this geometry: every partially visible row plus the prefetch
// buffers. Independent of totalCount.
func PoolSize(g Geometry, bufferRows int) int {
	if g.ItemHeight <= 0 || g.Columns < 1 {
		return 0
	}
	stepY := g.ItemHeight + g.Padding
	visibleRows := int(math.Ceil(float64(g.ViewportHeight/stepY))) + 1
	return (visibleRows + 2*bufferRows) * g.Columns
}

// ItemPosition returns the top-left corner of the cell for index.
func ItemPosition(g Geometry, index int) (x, y float32) {
	if g.Columns < 1 {
		return 0, 0
	}
	row := index / g.Columns
	col := index % g.Columns
	x = float32(col) * (g.ItemWidth + g.Padding)
	y = float32(row) * (g.ItemHeight + g.Padding)
	return x, y
}
