package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	maxCommentLength = 2000
	maxShareLength   = 500
	maxBookmarkTags  = 10
)

type PostStore interface {
	FindByID(ctx context.Context, id string) (*models.Post, error)
	IncCounter(ctx context.Context, id, field string, delta int) error
	SetPollCounts(ctx context.Context, id string, counts []int64, total int64) error

	InsertComment(ctx context.Context, c *models.Comment) error
	FindComment(ctx context.Context, id primitive.ObjectID) (*models.Comment, error)
	DeleteComment(ctx context.Context, id primitive.ObjectID) (bool, error)

	AddLike(ctx context.Context, userID, postID string, at time.Time) (bool, error)
	RemoveLike(ctx context.Context, userIDs []string, postID string) (bool, error)
	HasLiked(ctx context.Context, userIDs []string, postID string) (bool, error)

	InsertShare(ctx context.Context, s *models.Share) error

	AddBookmark(ctx context.Context, userIDs []string, b *models.Bookmark) (bool, error)
	RemoveBookmark(ctx context.Context, userIDs []string, postID string) (bool, error)
	ListBookmarks(ctx context.Context, userIDs []string) ([]models.Bookmark, error)
}

type LikeResult struct {
	Liked      bool  `json:"liked"`
	LikesCount int64 `json:"likesCount"`
}

// PostService owns the interactions on a post: likes, shares, comments and bookmarks.
// Each one pairs its write with a counter $inc in one transaction.
type PostService struct {
	posts         PostStore
	users         UserStore
	notifications *NotificationService
	tx            TxRunner
	fanout        *Fanout
	now           clock
}

func NewPostService(posts PostStore, users UserStore, notifications *NotificationService, tx TxRunner, fanout *Fanout) *PostService {
	if tx == nil {
		tx = directTx{}
	}
	return &PostService{posts: posts, users: users, notifications: notifications, tx: tx, fanout: fanout, now: utcNow}
}

func (s *PostService) load(ctx context.Context, id string) (*models.Post, error) {
	if _, err := parseObjectID(id, "post id"); err != nil {
		return nil, err
	}
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "post")
	}
	return post, nil
}

// authorNote builds a notification for the post author, or nil when the actor is the author.
func (s *PostService) authorNote(ctx context.Context, post *models.Post, actorID, kind, title, verb string) *models.Notification {
	author := s.fanout.Resolve(ctx, post.AuthorID)
	if author.Has(actorID) {
		return nil
	}
	actor, _ := s.users.FindByID(ctx, actorID)
	return &models.Notification{
		UserID:     author.Canonical,
		Type:       kind,
		Title:      title,
		Message:    displayName(actor, actorID) + " " + verb,
		Link:       "/posts/" + post.ID.Hex(),
		PostID:     post.ID.Hex(),
		FromUserID: actorID,
	}
}

func (s *PostService) ToggleLike(ctx context.Context, userID, postID string) (*LikeResult, error) {
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	me := s.fanout.Resolve(ctx, userID)

	liked, err := s.posts.HasLiked(ctx, me.All(), postID)
	if err != nil {
		return nil, storeErr(err, "like")
	}

	var note *models.Notification
	delta := 0
	if liked {
		err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
			delta = 0
			removed, err := s.posts.RemoveLike(ctx, me.All(), postID)
			if err != nil || !removed {
				return err
			}
			delta = -1
			return s.posts.IncCounter(ctx, postID, models.PostLikes, -1)
		})
	} else {
		note = s.authorNote(ctx, post, me.Canonical, models.NotificationLike, "New like", "liked your post")
		err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
			delta = 0
			added, err := s.posts.AddLike(ctx, me.Canonical, postID, s.now())
			if err != nil || !added {
				return err
			}
			delta = 1
			if err := s.posts.IncCounter(ctx, postID, models.PostLikes, 1); err != nil {
				return err
			}
			if note == nil {
				return nil
			}
			note.ID = primitive.NilObjectID
			return s.notifications.Record(ctx, note)
		})
	}
	if err != nil {
		return nil, storeErr(err, "like")
	}

	result := &LikeResult{Liked: !liked, LikesCount: post.LikesCount + int64(delta)}
	if result.LikesCount < 0 {
		result.LikesCount = 0
	}
	s.fanout.ToRooms(EventPostLiked, map[string]interface{}{
		"postId":     postID,
		"userId":     me.Canonical,
		"liked":      result.Liked,
		"likesCount": result.LikesCount,
	}, PostRoom(postID))
	if note != nil && delta > 0 {
		s.notifications.Deliver(ctx, note)
	}
	return result, nil
}

func (s *PostService) Share(ctx context.Context, userID, postID, message string) (*models.Share, error) {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > maxShareLength {
		return nil, invalid(fmt.Sprintf("message exceeds %d characters", maxShareLength))
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	me := s.fanout.Resolve(ctx, userID)
	note := s.authorNote(ctx, post, me.Canonical, models.NotificationShare, "Post shared", "shared your post")

	share := &models.Share{UserID: me.Canonical, PostID: postID, Message: message, CreatedAt: s.now()}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		share.ID = primitive.NilObjectID
		if err := s.posts.InsertShare(ctx, share); err != nil {
			return err
		}
		if err := s.posts.IncCounter(ctx, postID, models.PostShares, 1); err != nil {
			return err
		}
		if note == nil {
			return nil
		}
		note.ID = primitive.NilObjectID
		return s.notifications.Record(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "share")
	}

	s.fanout.ToRooms(EventShareUpdated, map[string]interface{}{
		"postId":      postID,
		"sharesCount": post.SharesCount + 1,
	}, PostRoom(postID))
	s.fanout.ToUser(ctx, post.AuthorID, EventPostShared, map[string]interface{}{
		"postId":   postID,
		"sharedBy": me.Canonical,
		"message":  message,
	})
	if note != nil {
		s.notifications.Deliver(ctx, note)
	}
	return share, nil
}

func (s *PostService) AddComment(ctx context.Context, userID, postID, content string) (*models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return nil, invalid(fmt.Sprintf("content exceeds %d characters", maxCommentLength))
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	me := s.fanout.Resolve(ctx, userID)
	note := s.authorNote(ctx, post, me.Canonical, models.NotificationComment, "New comment", "commented on your post")

	comment := &models.Comment{PostID: postID, AuthorID: me.Canonical, Content: content, CreatedAt: s.now()}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		comment.ID = primitive.NilObjectID
		if err := s.posts.InsertComment(ctx, comment); err != nil {
			return err
		}
		if err := s.posts.IncCounter(ctx, postID, models.PostComments, 1); err != nil {
			return err
		}
		if note == nil {
			return nil
		}
		note.ID = primitive.NilObjectID
		return s.notifications.Record(ctx, note)
	})
	if err != nil {
		return nil, storeErr(err, "comment")
	}

	s.fanout.ToRooms(EventNewComment, map[string]interface{}{
		"postId":        postID,
		"comment":       comment,
		"commentsCount": post.CommentsCount + 1,
	}, PostRoom(postID))
	if note != nil {
		s.notifications.Deliver(ctx, note)
	}
	return comment, nil
}

// DeleteComment removes a comment authored by userID, or any comment when userID is an admin.
// The post counter drops by exactly one, and only when the delete matched.
func (s *PostService) DeleteComment(ctx context.Context, userID, commentID string) error {
	oid, err := parseObjectID(commentID, "comment id")
	if err != nil {
		return err
	}
	comment, err := s.posts.FindComment(ctx, oid)
	if err != nil {
		return storeErr(err, "comment")
	}
	me := s.fanout.Resolve(ctx, userID)
	if !me.Has(comment.AuthorID) {
		actor, _ := s.users.FindByID(ctx, me.Canonical)
		if actor == nil || !actor.IsAdmin() {
			return forbidden("only the author or an admin can delete a comment")
		}
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.posts.DeleteComment(ctx, oid)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound("comment")
		}
		return s.posts.IncCounter(ctx, comment.PostID, models.PostComments, -1)
	})
	if err != nil {
		return storeErr(err, "comment")
	}

	s.fanout.ToRooms(EventCommentDeleted, map[string]interface{}{
		"postId":    comment.PostID,
		"commentId": commentID,
	}, PostRoom(comment.PostID))
	return nil
}

// AddBookmark is idempotent across every id the user is known by: saving an already bookmarked
// post returns false and leaves the counter alone.
func (s *PostService) AddBookmark(ctx context.Context, userID, postID string, tags []string) (bool, error) {
	if len(tags) > maxBookmarkTags {
		return false, invalid(fmt.Sprintf("at most %d tags", maxBookmarkTags))
	}
	if _, err := s.load(ctx, postID); err != nil {
		return false, err
	}
	me := s.fanout.Resolve(ctx, userID)

	var created bool
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		created = false
		inserted, err := s.posts.AddBookmark(ctx, me.All(), &models.Bookmark{
			UserID:  me.Canonical,
			PostID:  postID,
			Tags:    normalizeTags(tags),
			SavedAt: s.now(),
		})
		if err != nil || !inserted {
			return err
		}
		created = true
		return s.posts.IncCounter(ctx, postID, models.PostBookmarks, 1)
	})
	if err != nil {
		return false, storeErr(err, "bookmark")
	}
	return created, nil
}

func (s *PostService) RemoveBookmark(ctx context.Context, userID, postID string) error {
	if _, err := parseObjectID(postID, "post id"); err != nil {
		return err
	}
	me := s.fanout.Resolve(ctx, userID)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		removed, err := s.posts.RemoveBookmark(ctx, me.All(), postID)
		if err != nil {
			return err
		}
		if !removed {
			return notFound("bookmark")
		}
		return s.posts.IncCounter(ctx, postID, models.PostBookmarks, -1)
	})
	return storeErr(err, "bookmark")
}

func (s *PostService) ListBookmarks(ctx context.Context, userID string) ([]models.Bookmark, error) {
	list, err := s.posts.ListBookmarks(ctx, s.fanout.Resolve(ctx, userID).All())
	if err != nil {
		return nil, storeErr(err, "bookmarks")
	}
	return list, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
