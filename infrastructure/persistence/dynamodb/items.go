// Package dynamodb stores links, records and WebSocket connections in a
// single DynamoDB table.
//
// Layout:
//
//	LINK#<id>        / LINK    link item; GSI1 = TO#<toId>, GSI2 = FROM#<fromId>
//	PAIR#<from>#<to> / PAIR    guard item owned by the live link of that pair
//	RECORD#<id>      / RECORD  record item; GSI2 = KIND#<kind>
//	CONN#<connId>    / CONN    connection item; GSI1 = SESSION#<sessionId>
package dynamodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

// Entity types
const (
	entityLink       = "LINK"
	entityPair       = "PAIR"
	entityRecord     = "RECORD"
	entityConnection = "CONN"
)

func linkPK(id string) string            { return "LINK#" + id }
func recordPK(id string) string          { return "RECORD#" + id }
func connectionPK(id string) string      { return "CONN#" + id }
func inboundKey(toID string) string      { return "TO#" + toID }
func outboundKey(fromID string) string   { return "FROM#" + fromID }
func kindKey(kind vo.EntityKind) string  { return "KIND#" + string(kind) }
func sessionKey(sessionID string) string { return "SESSION#" + sessionID }

func pairPK(from, to vo.RecordRef) string {
	return fmt.Sprintf("PAIR#%s#%s#%s#%s", from.Kind, from.ID, to.Kind, to.ID)
}

// orderKey sorts links by creation time then id
func orderKey(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "#" + id
}

type linkItem struct {
	PK            string  `dynamodbav:"PK"`
	SK            string  `dynamodbav:"SK"`
	GSI1PK        string  `dynamodbav:"GSI1PK"`
	GSI1SK        string  `dynamodbav:"GSI1SK"`
	GSI2PK        string  `dynamodbav:"GSI2PK"`
	GSI2SK        string  `dynamodbav:"GSI2SK"`
	EntityType    string  `dynamodbav:"EntityType"`
	LinkID        string  `dynamodbav:"LinkID"`
	FromKind      string  `dynamodbav:"FromKind"`
	FromID        string  `dynamodbav:"FromID"`
	ToKind        string  `dynamodbav:"ToKind"`
	ToID          string  `dynamodbav:"ToID"`
	FromLocations string  `dynamodbav:"FromLocations"`
	ToLocations   string  `dynamodbav:"ToLocations"`
	Status        string  `dynamodbav:"Status"`
	CreatedBy     string  `dynamodbav:"CreatedBy"`
	CreatedAt     string  `dynamodbav:"CreatedAt"`
	UpdatedBy     string  `dynamodbav:"UpdatedBy,omitempty"`
	UpdatedAt     *string `dynamodbav:"UpdatedAt,omitempty"`
}

func newLinkItem(l *entities.EntityLink) linkItem {
	item := linkItem{
		PK:            linkPK(l.ID),
		SK:            entityLink,
		GSI1PK:        inboundKey(l.ToEntityID),
		GSI1SK:        orderKey(l.CreatedAt, l.ID),
		GSI2PK:        outboundKey(l.FromEntityID),
		GSI2SK:        orderKey(l.CreatedAt, l.ID),
		EntityType:    entityLink,
		LinkID:        l.ID,
		FromKind:      string(l.FromEntityKind),
		FromID:        l.FromEntityID,
		ToKind:        string(l.ToEntityKind),
		ToID:          l.ToEntityID,
		FromLocations: l.FromLocations,
		ToLocations:   l.ToLocations,
		Status:        string(l.Status),
		CreatedBy:     l.CreatedBy,
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedBy:     l.UpdatedBy,
	}
	if l.UpdatedAt != nil {
		s := l.UpdatedAt.UTC().Format(time.RFC3339Nano)
		item.UpdatedAt = &s
	}
	return item
}

func (i linkItem) toEntity() (*entities.EntityLink, error) {
	created, err := time.Parse(time.RFC3339Nano, i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("link %s: bad CreatedAt: %w", i.LinkID, err)
	}
	l := &entities.EntityLink{
		ID:             i.LinkID,
		FromEntityKind: vo.EntityKind(i.FromKind),
		FromEntityID:   i.FromID,
		ToEntityKind:   vo.EntityKind(i.ToKind),
		ToEntityID:     i.ToID,
		FromLocations:  i.FromLocations,
		ToLocations:    i.ToLocations,
		Status:         vo.StatusKind(i.Status),
		CreatedBy:      i.CreatedBy,
		CreatedAt:      created,
		UpdatedBy:      i.UpdatedBy,
	}
	if i.UpdatedAt != nil {
		updated, err := time.Parse(time.RFC3339Nano, *i.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("link %s: bad UpdatedAt: %w", i.LinkID, err)
		}
		l.UpdatedAt = &updated
	}
	return l, nil
}

type pairItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	LinkID     string `dynamodbav:"LinkID"`
}

func newPairItem(from, to vo.RecordRef, linkID string) pairItem {
	return pairItem{PK: pairPK(from, to), SK: entityPair, EntityType: entityPair, LinkID: linkID}
}

type recordItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	GSI2PK     string                 `dynamodbav:"GSI2PK"`
	GSI2SK     string                 `dynamodbav:"GSI2SK"`
	EntityType string                 `dynamodbav:"EntityType"`
	RecordID   string                 `dynamodbav:"RecordID"`
	Kind       string                 `dynamodbav:"Kind"`
	Label      string                 `dynamodbav:"Label"`
	LabelLower string                 `dynamodbav:"LabelLower"`
	Status     string                 `dynamodbav:"Status"`
	Fields     map[string]interface{} `dynamodbav:"Fields"`
	CreatedBy  string                 `dynamodbav:"CreatedBy"`
	CreatedAt  string                 `dynamodbav:"CreatedAt"`
	UpdatedBy  string                 `dynamodbav:"UpdatedBy"`
	UpdatedAt  string                 `dynamodbav:"UpdatedAt"`
	Version    int                    `dynamodbav:"Version"`
}

func newRecordItem(s entities.RecordSnapshot) recordItem {
	return recordItem{
		PK:         recordPK(s.ID),
		SK:         entityRecord,
		GSI2PK:     kindKey(s.Kind),
		GSI2SK:     s.ID,
		EntityType: entityRecord,
		RecordID:   s.ID,
		Kind:       string(s.Kind),
		Label:      s.Label,
		LabelLower: strings.ToLower(s.Label),
		Status:     string(s.Status),
		Fields:     s.Fields,
		CreatedBy:  s.CreatedBy,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedBy:  s.UpdatedBy,
		UpdatedAt:  s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
	}
}

func (i recordItem) toSnapshot() entities.RecordSnapshot {
	created, _ := time.Parse(time.RFC3339Nano, i.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, i.UpdatedAt)
	return entities.RecordSnapshot{
		Kind:      vo.EntityKind(i.Kind),
		ID:        i.RecordID,
		Label:     i.Label,
		Status:    vo.StatusKind(i.Status),
		Fields:    i.Fields,
		CreatedBy: i.CreatedBy,
		CreatedAt: created,
		UpdatedBy: i.UpdatedBy,
		UpdatedAt: updated,
		Version:   i.Version,
	}
}

type connectionItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	GSI1PK       string `dynamodbav:"GSI1PK"`
	GSI1SK       string `dynamodbav:"GSI1SK"`
	EntityType   string `dynamodbav:"EntityType"`
	ConnectionID string `dynamodbav:"ConnectionID"`
	UserID       string `dynamodbav:"UserID"`
	SessionID    string `dynamodbav:"SessionID"`
	ConnectedAt  string `dynamodbav:"ConnectedAt"`
	TTL          int64  `dynamodbav:"TTL"`
}
