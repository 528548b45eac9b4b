package repository

// positions maps a key to the first slice position holding it. It is rebuilt
// whenever the slice length changes or a cached position no longer holds the
// key, so callers only have to invalidate it on in-place edits.
type positions struct {
	at   map[string]int
	size int
}

func (p *positions) find(n int, keyAt func(int) string, key string) (int, bool) {
	if p.at != nil && p.size == n {
		i, ok := p.at[key]
		if !ok {
			return 0, false
		}
		if i < n && keyAt(i) == key {
			return i, true
		}
	}

	p.rebuild(n, keyAt)
	i, ok := p.at[key]
	return i, ok
}

func (p *positions) rebuild(n int, keyAt func(int) string) {
	p.at = make(map[string]int, n)
	p.size = n
	for i := 0; i < n; i++ {
		k := keyAt(i)
		if _, seen := p.at[k]; !seen {
			p.at[k] = i
		}
	}
}

func (p *positions) invalidate() {
	p.at = nil
	p.size = 0
}
