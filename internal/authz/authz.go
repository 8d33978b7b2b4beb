// Package authz decides whether an actor may perform a review or response
// operation. Decisions are pure functions of the actor and the resource
// references handed in by the caller.
package authz

import "github.com/noah-isme/course-review-api/internal/models"

// Operation names a gated transition.
type Operation string

const (
	CreateReview   Operation = "CreateReview"
	EditReview     Operation = "EditReview"
	DeleteReview   Operation = "DeleteReview"
	ModerateReview Operation = "ModerateReview"
	CreateResponse Operation = "CreateResponse"
	EditResponse   Operation = "EditResponse"
	DeleteResponse Operation = "DeleteResponse"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.UserRole
}

// Resource carries the ownership references an operation is judged against.
// OwnerID is the review author; CourseTeacherID is the teacher the response
// must belong to. Either may be empty when unknown or unassigned.
type Resource struct {
	OwnerID         string
	CourseTeacherID string
}

// Decision is the outcome of a gate check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool { return bool(d) }

// Decide evaluates the rule for op. Unknown operations are denied.
func Decide(op Operation, actor Actor, res Resource) Decision {
	if actor.ID == "" {
		return Deny
	}

	switch op {
	case CreateReview:
		return Decision(actor.Role == models.RoleStudent)
	case EditReview:
		return Decision(actor.Role == models.RoleStudent && owns(actor, res.OwnerID))
	case DeleteReview:
		if actor.Role == models.RoleAdmin {
			return Allow
		}
		return Decision(actor.Role == models.RoleStudent && owns(actor, res.OwnerID))
	case ModerateReview:
		return Decision(actor.Role == models.RoleAdmin)
	case CreateResponse, EditResponse, DeleteResponse:
		return Decision(actor.Role == models.RoleTeacher && owns(actor, res.CourseTeacherID))
	default:
		return Deny
	}
}

func owns(actor Actor, ownerID string) bool {
	return ownerID != "" && actor.ID == ownerID
}
