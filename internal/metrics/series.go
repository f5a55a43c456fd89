package metrics

import (
	"slices"
	"sort"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
)

// keySep cannot appear in a valid UTF-8 label value.
const keySep = "\xff"

// series validates label sets against the declared label names and remembers
// the order in which label combinations were first observed.
type series struct {
	labelNames []string

	mu    sync.Mutex
	index map[string]int
}

func newSeries(labelNames []string) *series {
	return &series{
		labelNames: slices.Clone(labelNames),
		index:      make(map[string]int),
	}
}

// resolve returns the label values in declaration order. Values that are not
// valid UTF-8 are normalized so any raw request path is accepted.
func (s *series) resolve(labels Labels) ([]string, error) {
	if len(labels) != len(s.labelNames) {
		return nil, ErrLabelMismatch
	}
	values := make([]string, len(s.labelNames))
	for i, name := range s.labelNames {
		v, ok := labels[name]
		if !ok {
			return nil, ErrLabelMismatch
		}
		values[i] = strings.ToValidUTF8(v, "\uFFFD")
	}
	return values, nil
}

func (s *series) seen(values []string) {
	key := strings.Join(values, keySep)
	s.mu.Lock()
	if _, ok := s.index[key]; !ok {
		s.index[key] = len(s.index)
	}
	s.mu.Unlock()
}

// sort reorders the gathered samples of a family into first-observed order.
func (s *series) sort(fam *dto.MetricFamily) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := make(map[*dto.Metric]int, len(fam.Metric))
	for _, m := range fam.Metric {
		pos[m] = s.position(m)
	}
	sort.SliceStable(fam.Metric, func(i, j int) bool {
		return pos[fam.Metric[i]] < pos[fam.Metric[j]]
	})
}

// position must be called with s.mu held. Unknown combinations sort last.
func (s *series) position(m *dto.Metric) int {
	byName := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		byName[lp.GetName()] = lp.GetValue()
	}
	values := make([]string, len(s.labelNames))
	for i, name := range s.labelNames {
		values[i] = byName[name]
	}
	if p, ok := s.index[strings.Join(values, keySep)]; ok {
		return p
	}
	return len(s.index)
}
