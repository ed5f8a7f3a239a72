package utfgrid

// HighlightSet is the ordered list of highlighted feature ids with a set index
// for membership. Appends keep duplicates in the list. Not safe for
// concurrent use; Layer guards its own set.
type HighlightSet struct {
	ids   []string
	index map[string]struct{}
}

func NewHighlightSet(ids ...string) *HighlightSet {
	h := &HighlightSet{index: make(map[string]struct{}, len(ids))}
	h.Append(ids...)
	return h
}

// Replace clears the set and then appends ids.
func (h *HighlightSet) Replace(ids ...string) {
	h.ids = h.ids[:0]
	clear(h.index)
	h.Append(ids...)
}

func (h *HighlightSet) Append(ids ...string) {
	if h.index == nil {
		h.index = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		h.ids = append(h.ids, id)
		h.index[id] = struct{}{}
	}
}

func (h *HighlightSet) Contains(id string) bool {
	if h == nil {
		return false
	}
	_, ok := h.index[id]
	return ok
}

func (h *HighlightSet) Len() int {
	if h == nil {
		return 0
	}
	return len(h.ids)
}

// IDs returns a copy of the ids in insertion order.
func (h *HighlightSet) IDs() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.ids...)
}

func (h *HighlightSet) Clone() *HighlightSet {
	return NewHighlightSet(h.IDs()...)
}
