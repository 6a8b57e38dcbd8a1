package world

import (
	"fmt"

	"github.com/jakecoffman/cp"

	"balldrop.ai/internal/sim/race"
)

// RoleKind says what a physics body is to the race.
type RoleKind uint8

const (
	RoleWall RoleKind = iota + 1
	RoleObstacle
	RoleActuator
	RoleFinish
	RoleEntity
)

func (k RoleKind) String() string {
	switch k {
	case RoleWall:
		return "WALL"
	case RoleObstacle:
		return "OBSTACLE"
	case RoleActuator:
		return "ACTUATOR"
	case RoleFinish:
		return "FINISH"
	case RoleEntity:
		return "ENTITY"
	default:
		return fmt.Sprintf("ROLE(%d)", uint8(k))
	}
}

// Role is resolved once per collision from the body handle. Entity is only
// meaningful for RoleEntity.
type Role struct {
	Kind   RoleKind
	Entity race.EntityID
}

type roleTable map[*cp.Body]Role

func (t roleTable) lookup(b *cp.Body) (Role, bool) {
	if b == nil {
		return Role{}, false
	}
	r, ok := t[b]
	return r, ok
}

// Collision types and filter categories. Actuator shapes only collide with
// balls so a rotor never jams against the static course.
const (
	ballType   cp.CollisionType = 1
	finishType cp.CollisionType = 2

	catStatic   uint = 1 << 0
	catBall     uint = 1 << 1
	catActuator uint = 1 << 2
)

var (
	staticFilter   = cp.ShapeFilter{Group: cp.NO_GROUP, Categories: catStatic, Mask: cp.ALL_CATEGORIES}
	ballFilter     = cp.ShapeFilter{Group: cp.NO_GROUP, Categories: catBall, Mask: cp.ALL_CATEGORIES}
	actuatorFilter = cp.ShapeFilter{Group: cp.NO_GROUP, Categories: catActuator, Mask: catBall}
)
