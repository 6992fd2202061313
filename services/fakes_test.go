package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"devconnect/database"
	"devconnect/identity"
	"devconnect/models"
	"devconnect/push"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type emitted struct {
	Event   string
	Payload interface{}
	Rooms   []string
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *fakeEmitter) Emit(event string, payload interface{}, rooms ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Event: event, Payload: payload, Rooms: rooms})
}

func (e *fakeEmitter) named(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

type fakeIdentities map[string]identity.Identity

func (f fakeIdentities) Resolve(_ context.Context, id string) identity.Identity {
	if ident, ok := f[id]; ok {
		return ident
	}
	for _, ident := range f {
		if ident.Has(id) {
			return ident
		}
	}
	return identity.Identity{Canonical: id}
}

type fakePresence map[string]bool

func (f fakePresence) IsOnline(_ context.Context, id string) bool { return f[id] }

type fakePusher struct {
	mu    sync.Mutex
	sends [][]string
}

func (p *fakePusher) NotifyAsync(ids []string, _ push.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, ids)
}

type countingTx struct{ calls int }

func (t *countingTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type fakeUsers struct {
	mu       sync.Mutex
	byID     map[string]*models.User
	counters map[string]map[string]int
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]*models.User{}, counters: map[string]map[string]int{}}
	for _, u := range users {
		f.byID[u.ID.Hex()] = u
	}
	return f
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeUsers) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, err := f.FindByID(ctx, id); err == nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) IncCounter(_ context.Context, id, field string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return database.ErrNotFound
	}
	if f.counters[id] == nil {
		f.counters[id] = map[string]int{}
	}
	f.counters[id][field] += delta
	return nil
}

func (f *fakeUsers) counter(id, field string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[id][field]
}

func (f *fakeUsers) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Phone == phone {
			return u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	f.byID[u.ID.Hex()] = u
	return nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id string, set map[string]interface{}) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if username, ok := set["username"].(string); ok {
		for otherID, other := range f.byID {
			if otherID != id && other.Username == username {
				return nil, database.ErrDuplicate
			}
		}
		u.Username = username
	}
	if v, ok := set["name"].(string); ok {
		u.Name = v
	}
	if v, ok := set["bio"].(string); ok {
		u.Bio = v
	}
	if v, ok := set["avatar"].(string); ok {
		u.Avatar = v
	}
	if v, ok := set["isPrivate"].(bool); ok {
		u.IsPrivate = v
	}
	cp := *u
	return &cp, nil
}

type fakeNotifications struct {
	mu    sync.Mutex
	items []models.Notification
}

func (f *fakeNotifications) Insert(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = primitive.NewObjectID()
	f.items = append(f.items, *n)
	return nil
}

func (f *fakeNotifications) List(_ context.Context, ids []string, skip, limit int64) ([]models.Notification, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mine []models.Notification
	for _, n := range f.items {
		if contains(ids, n.UserID) {
			mine = append(mine, n)
		}
	}
	total := int64(len(mine))
	if skip >= total {
		return []models.Notification{}, total, nil
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return mine[skip:end], total, nil
}

func (f *fakeNotifications) CountUnread(_ context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if contains(ids, item.UserID) && !item.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, id primitive.ObjectID, ids []string, at time.Time) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && contains(ids, f.items[i].UserID) {
			f.items[i].Read = true
			f.items[i].ReadAt = &at
			cp := f.items[i]
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeNotifications) MarkAllRead(_ context.Context, ids []string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.items {
		if contains(ids, f.items[i].UserID) && !f.items[i].Read {
			f.items[i].Read = true
			f.items[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) ofType(kind string) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.items {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeMessages struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]*models.Message
	// beforeReplace runs before a ReplaceContent compare, to simulate a concurrent writer.
	beforeReplace func(m *models.Message)
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: map[primitive.ObjectID]*models.Message{}}
}

func (f *fakeMessages) Insert(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

func (f *fakeMessages) FindByID(_ context.Context, id primitive.ObjectID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *m
	cp.EditHistory = append([]models.MessageEdit(nil), m.EditHistory...)
	return &cp, nil
}

func (f *fakeMessages) sorted(match func(m *models.Message) bool) []models.Message {
	var out []models.Message
	for _, m := range f.byID {
		if match(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeMessages) Conversation(_ context.Context, a, b []string, limit int64, _ *time.Time) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(m *models.Message) bool {
		return (contains(a, m.SenderID) && contains(b, m.ReceiverID)) || (contains(b, m.SenderID) && contains(a, m.ReceiverID))
	})
	if int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (f *fakeMessages) Unread(_ context.Context, senders, receivers []string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(m *models.Message) bool {
		return !m.Read && contains(senders, m.SenderID) && contains(receivers, m.ReceiverID)
	}), nil
}

func (f *fakeMessages) MarkRead(_ context.Context, id primitive.ObjectID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok || m.Read {
		return false, nil
	}
	m.Read = true
	m.ReadAt = &at
	return true, nil
}

func (f *fakeMessages) ReplaceContent(_ context.Context, id primitive.ObjectID, prev, next string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return false, nil
	}
	if f.beforeReplace != nil {
		hook := f.beforeReplace
		f.beforeReplace = nil
		hook(m)
	}
	if m.Content != prev {
		return false, nil
	}
	m.EditHistory = append(m.EditHistory, models.MessageEdit{Content: prev, EditedAt: at})
	m.Content = next
	m.EditedAt = &at
	return true, nil
}

func (f *fakeMessages) Delete(_ context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

func (f *fakeMessages) Conversations(_ context.Context, ids []string, _ int64) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := map[string]*models.Conversation{}
	for _, m := range f.sorted(func(m *models.Message) bool {
		return contains(ids, m.SenderID) || contains(ids, m.ReceiverID)
	}) {
		partner := m.ReceiverID
		if contains(ids, m.ReceiverID) {
			partner = m.SenderID
		}
		row, ok := rows[partner]
		if !ok {
			row = &models.Conversation{PartnerID: partner}
			rows[partner] = row
		}
		row.LastMessage = m
		row.UpdatedAt = m.CreatedAt
		if !m.Read && contains(ids, m.ReceiverID) {
			row.UnreadCount++
		}
	}
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type failingConversations struct {
	*fakeMessages
	err error
}

func (f failingConversations) Conversations(context.Context, []string, int64) ([]models.Conversation, error) {
	return nil, f.err
}

type fakeAudit struct {
	entries []models.AuditLog
}

func (f *fakeAudit) Insert(_ context.Context, e *models.AuditLog) error {
	f.entries = append(f.entries, *e)
	return nil
}

type fakeFollows struct {
	mu    sync.Mutex
	items []models.Follow
}

func (f *fakeFollows) Find(_ context.Context, followers, following []string) (*models.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fl := range f.items {
		if contains(followers, fl.FollowerID) && contains(following, fl.FollowingID) {
			cp := fl
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeFollows) Insert(_ context.Context, fl *models.Follow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.items {
		if existing.FollowerID == fl.FollowerID && existing.FollowingID == fl.FollowingID {
			return database.ErrDuplicate
		}
	}
	fl.ID = primitive.NewObjectID()
	f.items = append(f.items, *fl)
	return nil
}

func (f *fakeFollows) Delete(_ context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, fl := range f.items {
		if fl.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakePosts struct {
	mu        sync.Mutex
	posts     map[string]*models.Post
	comments  map[primitive.ObjectID]*models.Comment
	likes     map[string]bool
	shares    []models.Share
	bookmarks map[string]models.Bookmark
	incs      []string
}

func newFakePosts(posts ...*models.Post) *fakePosts {
	f := &fakePosts{
		posts:     map[string]*models.Post{},
		comments:  map[primitive.ObjectID]*models.Comment{},
		likes:     map[string]bool{},
		bookmarks: map[string]models.Bookmark{},
	}
	for _, p := range posts {
		f.posts[p.ID.Hex()] = p
	}
	return f
}

func (f *fakePosts) FindByID(_ context.Context, id string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	if p.Poll != nil {
		poll := *p.Poll
		poll.Options = append([]models.PollOption(nil), p.Poll.Options...)
		cp.Poll = &poll
	}
	return &cp, nil
}

func (f *fakePosts) IncCounter(_ context.Context, id, field string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return database.ErrNotFound
	}
	f.incs = append(f.incs, field)
	switch field {
	case models.PostLikes:
		p.LikesCount += int64(delta)
	case models.PostComments:
		p.CommentsCount += int64(delta)
	case models.PostShares:
		p.SharesCount += int64(delta)
	case models.PostBookmarks:
		p.BookmarksCount += int64(delta)
	}
	return nil
}

func (f *fakePosts) SetPollCounts(_ context.Context, id string, counts []int64, total int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Poll == nil {
		return database.ErrNotFound
	}
	for i, n := range counts {
		p.Poll.Options[i].Votes = n
	}
	p.Poll.TotalVotes = total
	return nil
}

func (f *fakePosts) InsertComment(_ context.Context, c *models.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = primitive.NewObjectID()
	cp := *c
	f.comments[c.ID] = &cp
	return nil
}

func (f *fakePosts) FindComment(_ context.Context, id primitive.ObjectID) (*models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakePosts) DeleteComment(_ context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[id]; !ok {
		return false, nil
	}
	delete(f.comments, id)
	return true, nil
}

func (f *fakePosts) AddLike(_ context.Context, userID, postID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + postID
	if f.likes[key] {
		return false, nil
	}
	f.likes[key] = true
	return true, nil
}

func (f *fakePosts) RemoveLike(_ context.Context, userIDs []string, postID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		key := id + "|" + postID
		if f.likes[key] {
			delete(f.likes, key)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePosts) HasLiked(_ context.Context, userIDs []string, postID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		if f.likes[id+"|"+postID] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePosts) InsertShare(_ context.Context, s *models.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = primitive.NewObjectID()
	f.shares = append(f.shares, *s)
	return nil
}

func (f *fakePosts) AddBookmark(_ context.Context, userIDs []string, b *models.Bookmark) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		key := id + "|" + b.PostID
		if existing, ok := f.bookmarks[key]; ok {
			existing.Tags = b.Tags
			f.bookmarks[key] = existing
			return false, nil
		}
	}
	f.bookmarks[b.UserID+"|"+b.PostID] = *b
	return true, nil
}

func (f *fakePosts) RemoveBookmark(_ context.Context, userIDs []string, postID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		key := id + "|" + postID
		if _, ok := f.bookmarks[key]; ok {
			delete(f.bookmarks, key)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePosts) ListBookmarks(_ context.Context, userIDs []string) ([]models.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Bookmark{}
	for _, b := range f.bookmarks {
		if contains(userIDs, b.UserID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakePosts) post(id string) models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.posts[id]
}

type fakePolls struct {
	mu    sync.Mutex
	polls map[string]*models.Poll
	votes map[string]map[string]int
}

func newFakePolls(polls ...*models.Poll) *fakePolls {
	f := &fakePolls{polls: map[string]*models.Poll{}, votes: map[string]map[string]int{}}
	for _, p := range polls {
		f.polls[p.ID.Hex()] = p
	}
	return f
}

func (f *fakePolls) FindByID(_ context.Context, id string) (*models.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	return &cp, nil
}

func (f *fakePolls) SetCounts(_ context.Context, id string, counts []int64, total int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[id]
	if !ok {
		return database.ErrNotFound
	}
	for i, n := range counts {
		p.Options[i].Votes = n
	}
	p.TotalVotes = total
	return nil
}

func (f *fakePolls) UpsertVote(_ context.Context, pollID, userID string, legacyIDs []string, option int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.votes[pollID] == nil {
		f.votes[pollID] = map[string]int{}
	}
	for _, id := range legacyIDs {
		delete(f.votes[pollID], id)
	}
	f.votes[pollID][userID] = option
	return nil
}

func (f *fakePolls) Tally(_ context.Context, pollID string) (map[int]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]int64{}
	for _, option := range f.votes[pollID] {
		out[option]++
	}
	return out, nil
}

type fakeGroups struct {
	groups map[string]*models.Group
}

func (f *fakeGroups) FindByID(_ context.Context, id string) (*models.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGroups) UpdateSettings(_ context.Context, id string, settings models.GroupSettings, at time.Time) (*models.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	g.Settings = settings
	g.UpdatedAt = at
	cp := *g
	return &cp, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// env bundles the fakes most service tests share.
type env struct {
	emitter  *fakeEmitter
	ids      fakeIdentities
	presence fakePresence
	pusher   *fakePusher
	fanout   *Fanout
	users    *fakeUsers
	notes    *fakeNotifications
	notify   *NotificationService
	tx       *countingTx
}

func newEnv(users ...*models.User) *env {
	e := &env{
		emitter:  &fakeEmitter{},
		ids:      fakeIdentities{},
		presence: fakePresence{},
		pusher:   &fakePusher{},
		users:    newFakeUsers(users...),
		notes:    &fakeNotifications{},
		tx:       &countingTx{},
	}
	e.fanout = NewFanout(e.emitter, e.ids, e.presence, e.pusher)
	e.notify = NewNotificationService(e.notes, e.fanout)
	return e
}

func newUser(name string) *models.User {
	return &models.User{ID: primitive.NewObjectID(), Name: name, Username: name, Role: models.RoleUser}
}
