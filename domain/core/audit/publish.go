package audit

import (
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// PublishVerdict is the publish-eligibility of a record given its live audit.
type PublishVerdict struct {
	CanPublish  bool   `json:"canPublish"`
	NeedsReview bool   `json:"needsReview"`
	Reason      string `json:"reason,omitempty"`
}

// EvaluatePublish decides whether status may move to Published. A published
// record whose audit now fails is flagged for review and never unpublished here.
func EvaluatePublish(status vo.StatusKind, a EntityAudit) PublishVerdict {
	switch {
	case status == vo.StatusPublished && a.Pass:
		return PublishVerdict{Reason: "already published"}
	case status == vo.StatusPublished:
		return PublishVerdict{NeedsReview: true, Reason: "published record no longer passes its audit"}
	case !status.CanTransitionTo(vo.StatusPublished):
		return PublishVerdict{Reason: "records with status " + status.Name() + " cannot be published"}
	case !a.Pass:
		return PublishVerdict{Reason: "record fails its audit"}
	}
	return PublishVerdict{CanPublish: true}
}
