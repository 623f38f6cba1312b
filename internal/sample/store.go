// Package sample keeps the labeled training samples of a session.
package sample

import (
	"sort"
	"sync"
)

// Store is an append-only, insertion-ordered collection of samples.
// Readers always get copies.
type Store struct {
	mtx     sync.RWMutex
	samples []Sample
}

func NewStore(samples ...Sample) *Store {
	s := &Store{}
	s.Append(samples...)
	return s
}

func (s *Store) Append(samples ...Sample) {
	s.mtx.Lock()
	for i := range samples {
		s.samples = append(s.samples, samples[i].clone())
	}
	s.mtx.Unlock()
}

func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.samples)
}

// All returns every sample in insertion order.
func (s *Store) All() []Sample {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return cloneAll(s.samples)
}

// Tail returns the last n samples in insertion order.
func (s *Store) Tail(n int) []Sample {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if n <= 0 {
		return []Sample{}
	}
	if n > len(s.samples) {
		n = len(s.samples)
	}
	return cloneAll(s.samples[len(s.samples)-n:])
}

// LabelCounts reports how many samples carry each label.
func (s *Store) LabelCounts() map[string]int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	counts := map[string]int{}
	for i := range s.samples {
		counts[s.samples[i].Label]++
	}
	return counts
}

// Labels returns the distinct labels sorted alphabetically.
func (s *Store) Labels() []string {
	counts := s.LabelCounts()
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func cloneAll(in []Sample) []Sample {
	out := make([]Sample, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
