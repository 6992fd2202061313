package services

import (
	"context"
	"time"

	"devconnect/models"
)

type GroupStore interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	UpdateSettings(ctx context.Context, id string, settings models.GroupSettings, at time.Time) (*models.Group, error)
}

type GroupService struct {
	groups GroupStore
	fanout *Fanout
	now    clock
}

func NewGroupService(groups GroupStore, fanout *Fanout) *GroupService {
	return &GroupService{groups: groups, fanout: fanout, now: utcNow}
}

// UpdateSettings replaces the group settings. Only the owner and group admins may change them.
func (s *GroupService) UpdateSettings(ctx context.Context, userID, groupID string, settings models.GroupSettings) (*models.Group, error) {
	if _, err := parseObjectID(groupID, "group id"); err != nil {
		return nil, err
	}
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, storeErr(err, "group")
	}
	me := s.fanout.Resolve(ctx, userID)
	if !group.CanManage(me.All()) {
		return nil, forbidden("only group owners and admins can change settings")
	}

	updated, err := s.groups.UpdateSettings(ctx, groupID, settings, s.now())
	if err != nil {
		return nil, storeErr(err, "group")
	}
	s.fanout.ToRooms(EventGroupUpdated, map[string]interface{}{
		"groupId":   groupID,
		"settings":  updated.Settings,
		"updatedBy": me.Canonical,
	}, GroupRoom(groupID))
	return updated, nil
}
