package layers

import "sort"

// loadingSet tracks layer ids awaiting terminal resolution. Each entry
// remembers the request token that owns it, so a stale completion cannot
// clear an entry a newer request registered.
//
// The all-clear callback is evaluated once per handled message: begin
// records whether anything was loading, settle fires when that is no
// longer true.
type loadingSet struct {
	owners     map[string]uint64
	wasLoading bool
	onClear    func()
}

func newLoadingSet(onClear func()) *loadingSet {
	return &loadingSet{owners: map[string]uint64{}, onClear: onClear}
}

func (l *loadingSet) add(id string, token uint64) {
	l.owners[id] = token
}

// remove clears id if token still owns it.
func (l *loadingSet) remove(id string, token uint64) bool {
	owner, ok := l.owners[id]
	if !ok || owner != token {
		return false
	}
	delete(l.owners, id)
	return true
}

func (l *loadingSet) reset() {
	l.owners = map[string]uint64{}
}

func (l *loadingSet) len() int {
	return len(l.owners)
}

func (l *loadingSet) ids() []string {
	out := make([]string, 0, len(l.owners))
	for id := range l.owners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *loadingSet) begin() {
	l.wasLoading = len(l.owners) > 0
}

// settle reports whether the set went from non-empty to empty since begin.
func (l *loadingSet) settle() bool {
	cleared := l.wasLoading && len(l.owners) == 0
	l.wasLoading = false
	if cleared && l.onClear != nil {
		l.onClear()
	}
	return cleared
}
