// Package robot owns the actuator bus session: configuration, torque
// lifecycle, and whole-robot reads and writes.
package robot

import (
	"fmt"
	"slices"
)

// DefaultHome is the centre of the MX position range.
const DefaultHome = 2048

// Actuators is the configured actuator table, in bus order.
type Actuators []Actuator

// DefaultActuators returns actuators 1-6 homed at the centre position.
func DefaultActuators() Actuators {
	acts := make(Actuators, 0, 6)
	for id := 1; id <= 6; id++ {
		acts = append(acts, Actuator{ID: id, Home: DefaultHome})
	}
	return acts
}

// IDs returns the actuator IDs in table order.
func (a Actuators) IDs() []int {
	ids := make([]int, 0, len(a))
	for _, act := range a {
		ids = append(ids, act.ID)
	}
	return ids
}

// ByID returns the actuator with the given ID.
func (a Actuators) ByID(id int) (Actuator, bool) {
	for _, act := range a {
		if act.ID == id {
			return act, true
		}
	}
	return Actuator{}, false
}

// Homes returns every actuator's home position keyed by ID.
func (a Actuators) Homes() map[int]int {
	homes := make(map[int]int, len(a))
	for _, act := range a {
		homes[act.ID] = act.Home
	}
	return homes
}

// ByParity returns the IDs that are even (or odd), in ascending order,
// skipping any ID in exclude.
func (a Actuators) ByParity(even bool, exclude ...int) []int {
	var ids []int
	for _, id := range a.IDs() {
		if slices.Contains(exclude, id) {
			continue
		}
		if (id%2 == 0) == even {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Name returns the display name of an actuator.
func Name(id int) string {
	return fmt.Sprintf("motor%d", id)
}
