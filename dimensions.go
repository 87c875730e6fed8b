package gridz

import "math"

// computeDimensions sets ComputedWidth on every column of s.
//
// Visible fixed-width columns take their clamped width first. Whatever is
// left of containerWidth is shared between the visible flex columns in
// proportion to their flex weights. A flex column whose share falls outside
// its min/max is frozen at the bound and the rest is shared again among the
// remaining flex columns, until no column violates its bounds. When the
// container width is unknown (zero) flex columns fall back to their width.
func computeDimensions(s *ColumnsState, containerWidth float64) {
	var (
		allocated float64
		flex      []string
	)
	for _, field := range s.OrderedFields {
		col := s.Lookup[field]
		if col.IsFlex() && s.IsVisible(field) {
			flex = append(flex, field)
			continue
		}
		col.ComputedWidth = col.clamp(col.Width)
		s.Lookup[field] = col
		if s.IsVisible(field) {
			allocated += col.ComputedWidth
		}
	}

	if len(flex) == 0 {
		return
	}
	if containerWidth <= 0 {
		for _, field := range flex {
			col := s.Lookup[field]
			col.ComputedWidth = col.clamp(col.Width)
			s.Lookup[field] = col
		}
		return
	}

	widths := distributeFlex(s, flex, math.Max(containerWidth-allocated, 0))
	for _, field := range flex {
		col := s.Lookup[field]
		col.ComputedWidth = widths[field]
		s.Lookup[field] = col
	}
}

func distributeFlex(s *ColumnsState, flex []string, freeSpace float64) map[string]float64 {
	var totalFlex float64
	for _, field := range flex {
		totalFlex += s.Lookup[field].Flex
	}

	widths := make(map[string]float64, len(flex))
	frozen := make(map[string]bool, len(flex))

	for len(frozen) < len(flex) {
		remaining := freeSpace
		units := totalFlex
		for field := range frozen {
			remaining -= widths[field]
			units -= s.Lookup[field].Flex
		}

		var violation float64
		minViolators := map[string]bool{}
		maxViolators := map[string]bool{}
		for _, field := range flex {
			if frozen[field] {
				continue
			}
			col := s.Lookup[field]
			w := 0.0
			if units > 0 {
				w = remaining / units * col.Flex
			}
			switch {
			case w < col.MinWidth:
				violation += col.MinWidth - w
				w = col.MinWidth
				minViolators[field] = true
			case w > col.MaxWidth:
				violation += col.MaxWidth - w
				w = col.MaxWidth
				maxViolators[field] = true
			}
			widths[field] = w
		}

		var freeze map[string]bool
		switch {
		case violation < 0:
			freeze = maxViolators
		case violation > 0:
			freeze = minViolators
		default:
			for _, field := range flex {
				frozen[field] = true
			}
			continue
		}
		for field := range freeze {
			frozen[field] = true
		}
	}
	return widths
}
