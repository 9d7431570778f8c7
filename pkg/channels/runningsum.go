package channels

// Running sums keep the mean in value and the sum of squared deviations in
// valueM2, merged with Welford's update. Entries whose flag intersects the
// mask carry no weight.

func (h *HardwareChannel) accumulate(value *HardwareChannel, count int, mask uint32) {
	n2 := count
	if n2 == 0 {
		n2 = value.goodEventCount
	}
	if value.errorFlag&mask != 0 {
		n2 = 0
	}
	switch {
	case n2 == 0:
		return
	case n2 < 0:
		h.remove(value, -n2)
		return
	}

	n1 := h.goodEventCount
	n := n1 + n2
	delta := value.value - h.value
	switch {
	case n1 == 0:
		h.value = value.value
		h.valueM2 = value.valueM2
	case n2 == 1:
		h.value += delta / float64(n)
		h.valueM2 += delta * (value.value - h.value)
	default:
		h.value += float64(n2) * delta / float64(n)
		h.valueM2 += value.valueM2 + float64(n1)*float64(n2)*delta*delta/float64(n)
	}
	h.goodEventCount = n
}

func (h *HardwareChannel) deaccumulate(value *HardwareChannel, mask uint32) {
	if value.errorFlag&mask != 0 || value.goodEventCount <= 0 {
		return
	}
	h.remove(value, value.goodEventCount)
}

// remove takes a set of n2 entries with mean value.value back out.
func (h *HardwareChannel) remove(value *HardwareChannel, n2 int) {
	n1 := h.goodEventCount
	n := n1 - n2
	if n <= 0 {
		h.value = 0
		h.valueM2 = 0
		h.valueError = 0
		h.goodEventCount = 0
		return
	}
	x := value.value
	mean := (float64(n1)*h.value - float64(n2)*x) / float64(n)
	d := x - mean
	m2 := h.valueM2 - value.valueM2 - float64(n)*float64(n2)*d*d/float64(n1)
	if m2 < 0 {
		m2 = 0
	}
	h.value = mean
	h.valueM2 = m2
	h.goodEventCount = n
}
