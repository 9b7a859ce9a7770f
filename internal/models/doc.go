// Package models holds the persisted record types shared by the store and the
// domain packages, together with the state names of every lifecycle graph.
//
// State names live here rather than next to their graphs so that packages
// which only need to filter by state (target selection, relationship counts)
// do not depend on the package that drives those states.
package models
