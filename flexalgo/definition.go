// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// Package flexalgo decides which Flexible Algorithms an area takes part
// in. Local definitions and the ones advertised by other routers compete
// per algorithm number; the winner's constraints become the area's
// participation record, which owns the SPF trees for that algorithm.
package flexalgo

import (
	"sort"

	"github.com/pkg/errors"

	"srv6d/affinity"
)

const (
	// MinAlgorithm is the first Flexible Algorithm number.
	MinAlgorithm = 128
	// DefaultPriority is the priority of a definition that sets none.
	DefaultPriority = 128

	// AlgorithmSPF is the well-known shortest path algorithm, always
	// advertised first.
	AlgorithmSPF uint8 = 0
	// AlgorithmUnset fills unused slots of an algorithm list.
	AlgorithmUnset uint8 = 255
	// MaxAlgorithms is the size of an advertised algorithm list.
	MaxAlgorithms = 8
)

var (
	ErrNotFound           = errors.New("flex-algo definition not found")
	ErrDuplicateAlgorithm = errors.New("flex-algo definition already exists")
	ErrReservedAlgorithm  = errors.New("algorithm is not a flexible algorithm")
)

// Definition is a locally configured Flex-Algorithm Definition.
type Definition struct {
	Algorithm  uint8        `json:"algorithm"`
	Exclude    affinity.Set `json:"exclude"`
	IncludeAny affinity.Set `json:"includeAny"`
	IncludeAll affinity.Set `json:"includeAll"`
	Priority   uint8        `json:"priority"`
	// UseFAPM selects the Flex-Algorithm prefix metric.
	UseFAPM bool `json:"useFapm"`
}

// NewDefinition returns a definition of algorithm with the default
// priority and no constraints.
func NewDefinition(algorithm uint8) Definition {
	return Definition{Algorithm: algorithm, Priority: DefaultPriority}
}

func (d Definition) AffinitySets() []affinity.Set {
	return []affinity.Set{d.Exclude, d.IncludeAny, d.IncludeAll}
}

// Store holds the local definitions of an area keyed by algorithm.
type Store struct {
	defs map[uint8]Definition
}

func NewStore() *Store {
	return &Store{defs: make(map[uint8]Definition)}
}

func (s *Store) add(d Definition) error {
	if d.Algorithm < MinAlgorithm {
		return errors.Wrapf(ErrReservedAlgorithm, "%d", d.Algorithm)
	}
	if _, ok := s.defs[d.Algorithm]; ok {
		return errors.Wrapf(ErrDuplicateAlgorithm, "%d", d.Algorithm)
	}
	s.defs[d.Algorithm] = d
	return nil
}

func (s *Store) delete(algorithm uint8) error {
	if _, ok := s.defs[algorithm]; !ok {
		return errors.Wrapf(ErrNotFound, "%d", algorithm)
	}
	delete(s.defs, algorithm)
	return nil
}

// Lookup returns the definition of algorithm.
func (s *Store) Lookup(algorithm uint8) (Definition, error) {
	d, ok := s.defs[algorithm]
	if !ok {
		return Definition{}, errors.Wrapf(ErrNotFound, "%d", algorithm)
	}
	return d, nil
}

// Definitions returns the definitions ordered by algorithm.
func (s *Store) Definitions() []Definition {
	out := make([]Definition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Algorithm < out[j].Algorithm })
	return out
}

// AffinitySets lists the constraint sets of every definition.
func (s *Store) AffinitySets() []affinity.Set {
	var out []affinity.Set
	for _, d := range s.Definitions() {
		out = append(out, d.AffinitySets()...)
	}
	return out
}
