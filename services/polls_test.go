package services

import (
	"context"
	"testing"
	"time"

	"devconnect/identity"
	"devconnect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func standalonePoll(expires *time.Time) *models.Poll {
	return &models.Poll{
		ID:        primitive.NewObjectID(),
		PostID:    primitive.NewObjectID().Hex(),
		Question:  "Tabs or spaces?",
		Options:   []models.PollOption{{Text: "tabs"}, {Text: "spaces"}},
		ExpiresAt: expires,
	}
}

func TestVoteOverwriteKeepsOneVotePerUser(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	poll := standalonePoll(nil)
	polls := newFakePolls(poll)
	svc := NewPollService(polls, newFakePosts(), e.tx, e.fanout)
	ctx := context.Background()

	_, err := svc.Vote(ctx, alice.ID.Hex(), poll.ID.Hex(), 0)
	require.NoError(t, err)
	_, err = svc.Vote(ctx, bob.ID.Hex(), poll.ID.Hex(), 0)
	require.NoError(t, err)
	got, err := svc.Vote(ctx, alice.ID.Hex(), poll.ID.Hex(), 1)
	require.NoError(t, err)

	assert.EqualValues(t, 1, got.Options[0].Votes)
	assert.EqualValues(t, 1, got.Options[1].Votes)
	assert.EqualValues(t, 2, got.TotalVotes, "counts sum to distinct voters")

	stored, _ := polls.FindByID(ctx, poll.ID.Hex())
	assert.EqualValues(t, 2, stored.TotalVotes)

	updates := e.emitter.named(EventPollUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, []string{"poll:" + poll.ID.Hex(), "post:" + poll.PostID}, updates[2].Rooms)
}

func TestVoteReplacesLegacyVote(t *testing.T) {
	alice := newUser("alice")
	e := newEnv(alice)
	e.ids[alice.ID.Hex()] = identity.Identity{Canonical: alice.ID.Hex(), Alternates: []string{"google-alice"}}
	poll := standalonePoll(nil)
	polls := newFakePolls(poll)
	polls.votes[poll.ID.Hex()] = map[string]int{"google-alice": 0}
	svc := NewPollService(polls, newFakePosts(), e.tx, e.fanout)

	got, err := svc.Vote(context.Background(), alice.ID.Hex(), poll.ID.Hex(), 1)
	require.NoError(t, err)
	assert.Zero(t, got.Options[0].Votes)
	assert.EqualValues(t, 1, got.Options[1].Votes)
	assert.EqualValues(t, 1, got.TotalVotes)
	assert.Equal(t, map[string]int{alice.ID.Hex(): 1}, polls.votes[poll.ID.Hex()])
}

func TestVoteRejectsExpiredAndBadOption(t *testing.T) {
	alice := newUser("alice")
	e := newEnv(alice)
	past := time.Now().Add(-time.Hour)
	expired := standalonePoll(&past)
	open := standalonePoll(nil)
	svc := NewPollService(newFakePolls(expired, open), newFakePosts(), e.tx, e.fanout)
	ctx := context.Background()

	_, err := svc.Vote(ctx, alice.ID.Hex(), expired.ID.Hex(), 0)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "poll has ended")

	_, err = svc.Vote(ctx, alice.ID.Hex(), open.ID.Hex(), 2)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Vote(ctx, alice.ID.Hex(), open.ID.Hex(), -1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Vote(ctx, alice.ID.Hex(), primitive.NewObjectID().Hex(), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Vote(ctx, alice.ID.Hex(), "xyz", 0)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestVoteOnEmbeddedPoll(t *testing.T) {
	alice := newUser("alice")
	e := newEnv(alice)
	post := &models.Post{
		ID:       primitive.NewObjectID(),
		AuthorID: alice.ID.Hex(),
		Poll: &models.Poll{
			Question: "Best editor?",
			Options:  []models.PollOption{{Text: "vim"}, {Text: "emacs"}, {Text: "other"}},
		},
	}
	posts := newFakePosts(post)
	svc := NewPollService(newFakePolls(), posts, e.tx, e.fanout)
	ctx := context.Background()

	got, err := svc.Vote(ctx, alice.ID.Hex(), post.ID.Hex(), 2)
	require.NoError(t, err)
	assert.True(t, got.Embedded)
	assert.EqualValues(t, 1, posts.post(post.ID.Hex()).Poll.Options[2].Votes)

	refreshed, err := svc.Refresh(ctx, post.ID.Hex())
	require.NoError(t, err)
	assert.EqualValues(t, 1, refreshed.TotalVotes)
	ev := e.emitter.named(EventPollRefreshed)
	require.Len(t, ev, 1)
	assert.Contains(t, ev[0].Rooms, "post:"+post.ID.Hex())
}
