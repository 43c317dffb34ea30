// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import "github.com/Masterminds/semver/v3"

// ResolveLoadOrder computes a total load order from declared
// dependencies, as a pure function of the discovered manifests.
//
// The graph has an edge from each dependency to its dependent. Required
// dependencies absent from the set fail with MissingDependencyError;
// optional absences drop the edge. A declared version range that the
// discovered dependency does not satisfy fails with
// VersionConflictError (optional dependencies with an unsatisfied range
// are treated as absent).
//
// The sort is Kahn's algorithm with a deterministic tie-break: among
// nodes with no remaining incoming edges, the earliest-discovered is
// emitted first. Determinism is part of the contract, not an accident
// of iteration order.
func ResolveLoadOrder(manifests []*Manifest) ([]*Manifest, error) {
	n := len(manifests)
	index := make(map[string]int, n)
	for i, m := range manifests {
		if _, dup := index[m.ID]; dup {
			return nil, &DuplicatePluginError{ID: m.ID}
		}
		index[m.ID] = i
	}

	dependents := make([][]int, n)
	indegree := make([]int, n)
	for i, m := range manifests {
		for _, dep := range m.Dependencies {
			j, found := index[dep.ID]
			if !found {
				if dep.Optional {
					continue
				}
				return nil, &MissingDependencyError{PluginID: m.ID, MissingID: dep.ID}
			}
			if dep.VersionRange != "" {
				ok, err := satisfiesRange(manifests[j], dep.VersionRange)
				if err != nil {
					return nil, err
				}
				if !ok {
					if dep.Optional {
						continue
					}
					return nil, &VersionConflictError{
						PluginID:     m.ID,
						DependencyID: dep.ID,
						Range:        dep.VersionRange,
						Version:      manifests[j].Version,
					}
				}
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	emitted := make([]bool, n)
	order := make([]*Manifest, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !emitted[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			remaining := make([]string, 0, n-len(order))
			for i := 0; i < n; i++ {
				if !emitted[i] {
					remaining = append(remaining, manifests[i].ID)
				}
			}
			return nil, &CyclicDependencyError{IDs: remaining}
		}
		emitted[next] = true
		order = append(order, manifests[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}

	return order, nil
}

// satisfiesRange checks a dependency's version against a constraint.
func satisfiesRange(target *Manifest, versionRange string) (bool, error) {
	c, err := semver.NewConstraint(versionRange)
	if err != nil {
		return false, &ManifestError{Field: "dependencies", Reason: "invalid version range " + versionRange + ": " + err.Error()}
	}
	v, err := target.SemVer()
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
