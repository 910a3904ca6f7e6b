package checksum

import (
	"fmt"
	"sort"

	"github.com/quantarax/deltasync/internal/errs"
)

var (
	weakProviders   = map[string]Weak{}
	strongProviders = map[string]Strong{}
)

// RegisterWeak adds a weak provider to the registry. Registration happens
// from init functions; the registry is read-only afterwards.
func RegisterWeak(w Weak) {
	weakProviders[w.ID()] = w
}

// RegisterStrong adds a strong provider to the registry.
func RegisterStrong(s Strong) {
	strongProviders[s.ID()] = s
}

func LookupWeak(id string) (Weak, error) {
	w, ok := weakProviders[id]
	if !ok {
		return nil, fmt.Errorf("%w: weak checksum %q", errs.ErrUnknownAlgorithm, id)
	}
	return w, nil
}

func LookupStrong(id string) (Strong, error) {
	s, ok := strongProviders[id]
	if !ok {
		return nil, fmt.Errorf("%w: strong hash %q", errs.ErrUnknownAlgorithm, id)
	}
	return s, nil
}

// WeakIDs lists registered weak providers in sorted order.
func WeakIDs() []string {
	return sortedKeys(weakProviders)
}

// StrongIDs lists registered strong providers in sorted order.
func StrongIDs() []string {
	return sortedKeys(strongProviders)
}

func sortedKeys[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CheckIDs fails with errs.ErrAlgorithmMismatch unless weak and strong
// carry the recorded identifiers.
func CheckIDs(weakID, strongID string, weak Weak, strong Strong) error {
	if weak.ID() != weakID {
		return fmt.Errorf("%w: weak checksum %q, recorded %q", errs.ErrAlgorithmMismatch, weak.ID(), weakID)
	}
	if strong.ID() != strongID {
		return fmt.Errorf("%w: strong hash %q, recorded %q", errs.ErrAlgorithmMismatch, strong.ID(), strongID)
	}
	return nil
}
