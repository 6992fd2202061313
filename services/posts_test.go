package services

import (
	"context"
	"testing"

	"devconnect/identity"
	"devconnect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func postBy(author *models.User) *models.Post {
	return &models.Post{ID: primitive.NewObjectID(), AuthorID: author.ID.Hex(), Content: "hello world"}
}

func TestBookmarkTwiceIncrementsOnce(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	post := postBy(bob)
	posts := newFakePosts(post)
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	created, err := svc.AddBookmark(ctx, alice.ID.Hex(), post.ID.Hex(), []string{"Go", "go", " backend "})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = svc.AddBookmark(ctx, alice.ID.Hex(), post.ID.Hex(), nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.EqualValues(t, 1, posts.post(post.ID.Hex()).BookmarksCount)

	list, err := svc.ListBookmarks(ctx, alice.ID.Hex())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"go", "backend"}, list[0].Tags)

	require.NoError(t, svc.RemoveBookmark(ctx, alice.ID.Hex(), post.ID.Hex()))
	assert.ErrorIs(t, svc.RemoveBookmark(ctx, alice.ID.Hex(), post.ID.Hex()), ErrNotFound)
	assert.Zero(t, posts.post(post.ID.Hex()).BookmarksCount)
}

func TestBookmarkHeldUnderLegacyIDIsReused(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	e.ids[alice.ID.Hex()] = identity.Identity{Canonical: alice.ID.Hex(), Alternates: []string{"google-alice"}}
	post := postBy(bob)
	posts := newFakePosts(post)
	posts.bookmarks["google-alice|"+post.ID.Hex()] = models.Bookmark{UserID: "google-alice", PostID: post.ID.Hex()}
	post.BookmarksCount = 1
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	created, err := svc.AddBookmark(ctx, alice.ID.Hex(), post.ID.Hex(), []string{"go"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.EqualValues(t, 1, posts.post(post.ID.Hex()).BookmarksCount)

	list, err := svc.ListBookmarks(ctx, alice.ID.Hex())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "google-alice", list[0].UserID)
	assert.Equal(t, []string{"go"}, list[0].Tags)
}

func TestDeleteCommentDecrementsExactlyOnce(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	post := postBy(bob)
	posts := newFakePosts(post)
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	comment, err := svc.AddComment(ctx, alice.ID.Hex(), post.ID.Hex(), "nice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, posts.post(post.ID.Hex()).CommentsCount)
	require.Len(t, e.notes.ofType(models.NotificationComment), 1)
	assert.Len(t, e.emitter.named(EventNewComment), 1)

	assert.ErrorIs(t, svc.DeleteComment(ctx, bob.ID.Hex(), comment.ID.Hex()), ErrForbidden)
	require.NoError(t, svc.DeleteComment(ctx, alice.ID.Hex(), comment.ID.Hex()))
	assert.Zero(t, posts.post(post.ID.Hex()).CommentsCount)

	incs := len(posts.incs)
	assert.ErrorIs(t, svc.DeleteComment(ctx, alice.ID.Hex(), comment.ID.Hex()), ErrNotFound)
	assert.ErrorIs(t, svc.DeleteComment(ctx, alice.ID.Hex(), primitive.NewObjectID().Hex()), ErrNotFound)
	assert.Len(t, posts.incs, incs, "missing comments never touch the counter")
	assert.Zero(t, posts.post(post.ID.Hex()).CommentsCount)
}

func TestAdminDeletesAnyComment(t *testing.T) {
	alice, admin := newUser("alice"), newUser("admin")
	admin.Role = models.RoleAdmin
	e := newEnv(alice, admin)
	post := postBy(alice)
	posts := newFakePosts(post)
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	comment, err := svc.AddComment(ctx, alice.ID.Hex(), post.ID.Hex(), "own post")
	require.NoError(t, err)
	assert.Empty(t, e.notes.ofType(models.NotificationComment), "no notification on own post")

	require.NoError(t, svc.DeleteComment(ctx, admin.ID.Hex(), comment.ID.Hex()))
	assert.Len(t, e.emitter.named(EventCommentDeleted), 1)
}

func TestShareNotifiesAuthor(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	post := postBy(bob)
	posts := newFakePosts(post)
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	share, err := svc.Share(ctx, alice.ID.Hex(), post.ID.Hex(), "look at this")
	require.NoError(t, err)
	assert.Equal(t, alice.ID.Hex(), share.UserID)
	assert.EqualValues(t, 1, posts.post(post.ID.Hex()).SharesCount)

	updated := e.emitter.named(EventShareUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, []string{"post:" + post.ID.Hex()}, updated[0].Rooms)
	shared := e.emitter.named(EventPostShared)
	require.Len(t, shared, 1)
	assert.Equal(t, []string{"user:" + bob.ID.Hex()}, shared[0].Rooms)
	require.Len(t, e.notes.ofType(models.NotificationShare), 1)

	_, err = svc.Share(ctx, bob.ID.Hex(), post.ID.Hex(), "")
	require.NoError(t, err)
	assert.Len(t, e.notes.ofType(models.NotificationShare), 1, "self share does not notify")
}

func TestToggleLike(t *testing.T) {
	alice, bob := newUser("alice"), newUser("bob")
	e := newEnv(alice, bob)
	post := postBy(bob)
	posts := newFakePosts(post)
	svc := NewPostService(posts, e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()

	res, err := svc.ToggleLike(ctx, alice.ID.Hex(), post.ID.Hex())
	require.NoError(t, err)
	assert.True(t, res.Liked)
	assert.EqualValues(t, 1, res.LikesCount)
	require.Len(t, e.notes.ofType(models.NotificationLike), 1)

	res, err = svc.ToggleLike(ctx, alice.ID.Hex(), post.ID.Hex())
	require.NoError(t, err)
	assert.False(t, res.Liked)
	assert.Zero(t, res.LikesCount)
	assert.Zero(t, posts.post(post.ID.Hex()).LikesCount)
	assert.Len(t, e.emitter.named(EventPostLiked), 2)
	assert.Len(t, e.notes.ofType(models.NotificationLike), 1)
}

func TestInteractionsOnMissingPost(t *testing.T) {
	alice := newUser("alice")
	e := newEnv(alice)
	svc := NewPostService(newFakePosts(), e.users, e.notify, e.tx, e.fanout)
	ctx := context.Background()
	missing := primitive.NewObjectID().Hex()

	_, err := svc.ToggleLike(ctx, alice.ID.Hex(), missing)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AddBookmark(ctx, alice.ID.Hex(), missing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AddComment(ctx, alice.ID.Hex(), "bad", "x")
	assert.ErrorIs(t, err, ErrInvalidID)
}
