package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devconnect/database"
	"devconnect/models"
)

type PollStore interface {
	FindByID(ctx context.Context, id string) (*models.Poll, error)
	SetCounts(ctx context.Context, id string, counts []int64, total int64) error
	UpsertVote(ctx context.Context, pollID, userID string, legacyIDs []string, option int, at time.Time) error
	Tally(ctx context.Context, pollID string) (map[int]int64, error)
}

type PollService struct {
	polls  PollStore
	posts  PostStore
	tx     TxRunner
	fanout *Fanout
	now    clock
}

func NewPollService(polls PollStore, posts PostStore, tx TxRunner, fanout *Fanout) *PollService {
	if tx == nil {
		tx = directTx{}
	}
	return &PollService{polls: polls, posts: posts, tx: tx, fanout: fanout, now: utcNow}
}

// Get loads a standalone poll, falling back to the poll embedded on the post with that id.
func (s *PollService) Get(ctx context.Context, id string) (*models.Poll, error) {
	if _, err := parseObjectID(id, "poll id"); err != nil {
		return nil, err
	}
	poll, err := s.polls.FindByID(ctx, id)
	if err == nil {
		return poll, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, storeErr(err, "poll")
	}

	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "poll")
	}
	if post.Poll == nil {
		return nil, notFound("poll")
	}
	poll = post.Poll
	poll.ID = post.ID
	poll.PostID = post.ID.Hex()
	poll.Embedded = true
	return poll, nil
}

// Vote records userID's choice, replacing any earlier vote cast under any of the user's ids,
// and recounts every option.
func (s *PollService) Vote(ctx context.Context, userID, pollID string, option int) (*models.Poll, error) {
	poll, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.Expired(s.now()) {
		return nil, invalid("poll has ended")
	}
	if option < 0 || option >= len(poll.Options) {
		return nil, invalid(fmt.Sprintf("option index must be between 0 and %d", len(poll.Options)-1))
	}
	ident := s.fanout.Resolve(ctx, userID)
	voter := ident.Canonical

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.polls.UpsertVote(ctx, poll.ID.Hex(), voter, ident.Alternates, option, s.now()); err != nil {
			return err
		}
		return s.recount(ctx, poll)
	})
	if err != nil {
		return nil, storeErr(err, "poll")
	}

	s.emit(EventPollUpdate, poll, map[string]interface{}{"voterId": voter, "optionIndex": option})
	return poll, nil
}

// Refresh recounts the poll from its votes and broadcasts the result.
func (s *PollService) Refresh(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := s.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.recount(ctx, poll); err != nil {
		return nil, storeErr(err, "poll")
	}
	s.emit(EventPollRefreshed, poll, nil)
	return poll, nil
}

func (s *PollService) recount(ctx context.Context, poll *models.Poll) error {
	tally, err := s.polls.Tally(ctx, poll.ID.Hex())
	if err != nil {
		return err
	}
	counts := make([]int64, len(poll.Options))
	var total int64
	for i := range counts {
		counts[i] = tally[i]
		total += tally[i]
	}

	if poll.Embedded {
		err = s.posts.SetPollCounts(ctx, poll.PostID, counts, total)
	} else {
		err = s.polls.SetCounts(ctx, poll.ID.Hex(), counts, total)
	}
	if err != nil {
		return err
	}
	for i := range poll.Options {
		poll.Options[i].Votes = counts[i]
	}
	poll.TotalVotes = total
	return nil
}

func (s *PollService) emit(event string, poll *models.Poll, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"pollId":     poll.ID.Hex(),
		"postId":     poll.PostID,
		"options":    poll.Options,
		"totalVotes": poll.TotalVotes,
	}
	for k, v := range extra {
		payload[k] = v
	}
	rooms := []string{PollRoom(poll.ID.Hex())}
	if poll.PostID != "" {
		rooms = append(rooms, PostRoom(poll.PostID))
	}
	s.fanout.ToRooms(event, payload, rooms...)
}
