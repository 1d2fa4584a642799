package catalog

import "github.com/MarcoPoloResearchLab/marquee/backend/internal/patch"

// Field guards applied to every client-supplied patch before it reaches an entity.
var (
	MoviePolicy          = patch.NewPolicy("/id", "/crew", "/cast")
	UserPolicy           = patch.NewPolicy("/email", "/birthday", "/friends", "/roles")
	AssessmentPolicy     = patch.NewPolicy("/id", "/movie", "/user")
	PersonPolicy         = patch.NewPolicy("/id")
	CastPolicy           = patch.NewPolicy("/id", "/name", "/relationId")
	CrewPolicy           = patch.NewPolicy("/id", "/name", "/relationId")
	FriendRelationPolicy = patch.NewPolicy("/friendEmail", "/friendName", "/requested", "/accepted")
)
