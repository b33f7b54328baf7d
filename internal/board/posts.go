// Package board holds the browsing state of one visitor: which page of posts
// is shown, which post is selected, and the delete/update actions bound to
// the selection. Views are plain structs built from the query cache.
package board

import (
	"context"
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/query"
)

// DefaultMaxPage is the last reachable page when Options.MaxPage is unset.
const DefaultMaxPage = 10

// Mutation names, used in change notifications.
const (
	MutationDelete = "delete"
	MutationUpdate = "update"
)

// Source is the remote API the board reads from and writes to.
type Source interface {
	FetchPosts(ctx context.Context, page int) ([]models.Post, error)
	FetchComments(ctx context.Context, postID int) ([]models.Comment, error)
	DeletePost(ctx context.Context, id int) error
	UpdatePost(ctx context.Context, id int, title string) (models.Post, error)
}

// PostsKey is the cache key of one page of posts.
func PostsKey(page int) query.Key {
	return query.Key{"posts", page}
}

// CommentsKey is the cache key of one post's comments.
func CommentsKey(postID int) query.Key {
	return query.Key{"comments", postID}
}

// PostsFetcher loads one page of posts.
func PostsFetcher(src Source, page int) query.Fetcher {
	return query.Func(func(ctx context.Context) ([]models.Post, error) {
		return src.FetchPosts(ctx, page)
	})
}

// CommentsFetcher loads one post's comments.
func CommentsFetcher(src Source, postID int) query.Fetcher {
	return query.Func(func(ctx context.Context) ([]models.Comment, error) {
		return src.FetchComments(ctx, postID)
	})
}

// UpdateVars are the inputs of the update action.
type UpdateVars struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Validate checks the update inputs.
func (v *UpdateVars) Validate() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.ID, validation.Required, validation.Min(1)),
		validation.Field(&v.Title, validation.Required, validation.Length(1, 200)),
	)
}

// DeleteMutation and UpdateMutation are the action handles passed to Detail.
type (
	DeleteMutation = query.Mutation[int, struct{}]
	UpdateMutation = query.Mutation[UpdateVars, models.Post]
)

// Options tune a Posts board.
type Options struct {
	MaxPage int
	// InvalidateOnMutation marks cached post pages stale after a successful
	// delete or update so the list refetches on next view.
	InvalidateOnMutation bool
	// OnMutation observes action status transitions.
	OnMutation func(name string, status query.Status)
}

// Posts is the list state of one visitor. It is safe for concurrent use.
type Posts struct {
	src   Source
	cache *query.Client
	opts  Options

	mu       sync.Mutex
	page     int
	selected *models.Post

	del *DeleteMutation
	upd *UpdateMutation
}

// NewPosts creates a board positioned on page 1 with nothing selected.
func NewPosts(src Source, cache *query.Client, opts Options) *Posts {
	if opts.MaxPage < 1 {
		opts.MaxPage = DefaultMaxPage
	}
	p := &Posts{src: src, cache: cache, opts: opts, page: 1}

	delOpts := []query.MutationOption[int, struct{}]{
		query.OnSuccess[int, struct{}](func(id int, _ struct{}) {
			if p.opts.InvalidateOnMutation {
				p.cache.Invalidate(query.Key{"posts"})
				p.cache.Remove(CommentsKey(id))
			}
		}),
	}
	updOpts := []query.MutationOption[UpdateVars, models.Post]{
		query.OnSuccess[UpdateVars, models.Post](func(vars UpdateVars, post models.Post) {
			if !p.opts.InvalidateOnMutation {
				return
			}
			p.cache.Invalidate(query.Key{"posts"})
			p.mu.Lock()
			if p.selected != nil && p.selected.ID == vars.ID {
				updated := *p.selected
				updated.Title = post.Title
				p.selected = &updated
			}
			p.mu.Unlock()
		}),
	}
	if opts.OnMutation != nil {
		delOpts = append(delOpts, query.OnChange[int, struct{}](opts.OnMutation))
		updOpts = append(updOpts, query.OnChange[UpdateVars, models.Post](opts.OnMutation))
	}

	p.del = query.NewMutation[int, struct{}](MutationDelete, func(ctx context.Context, id int) (struct{}, error) {
		return struct{}{}, src.DeletePost(ctx, id)
	}, delOpts...)
	p.upd = query.NewMutation[UpdateVars, models.Post](MutationUpdate, func(ctx context.Context, vars UpdateVars) (models.Post, error) {
		vars.Title = strings.TrimSpace(vars.Title)
		if err := vars.Validate(); err != nil {
			return models.Post{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		return src.UpdatePost(ctx, vars.ID, vars.Title)
	}, updOpts...)
	return p
}

// Page returns the current 1-based page index.
func (p *Posts) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// MaxPage returns the last reachable page.
func (p *Posts) MaxPage() int {
	return p.opts.MaxPage
}

// CanPrev reports whether the previous-page control is enabled.
func (p *Posts) CanPrev() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page > 1
}

// CanNext reports whether the next-page control is enabled.
func (p *Posts) CanNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page < p.opts.MaxPage
}

// Next moves one page forward. It does nothing and returns false when the
// next-page control is disabled.
func (p *Posts) Next() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page >= p.opts.MaxPage {
		return false
	}
	p.page++
	return true
}

// Prev moves one page back. It does nothing and returns false when the
// previous-page control is disabled.
func (p *Posts) Prev() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page <= 1 {
		return false
	}
	p.page--
	return true
}

// Select makes post the selected post and resets both actions to idle.
// The selection survives page changes.
func (p *Posts) Select(post models.Post) {
	p.mu.Lock()
	p.selected = &post
	p.mu.Unlock()
	p.del.Reset()
	p.upd.Reset()
}

// SelectID selects a post of the current page by id.
func (p *Posts) SelectID(ctx context.Context, id int) error {
	page := p.Page()
	posts, err := query.FetchAs(ctx, p.cache, PostsKey(page), func(ctx context.Context) ([]models.Post, error) {
		return p.src.FetchPosts(ctx, page)
	})
	if err != nil {
		return err
	}
	for _, post := range posts {
		if post.ID == id {
			p.Select(post)
			return nil
		}
	}
	return fmt.Errorf("post %d on page %d: %w", id, page, apperr.ErrNotFound)
}

// Selected returns the selected post, if any.
func (p *Posts) Selected() (models.Post, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected == nil {
		return models.Post{}, false
	}
	return *p.selected, true
}

// DeleteAction returns the delete handle bound to this board.
func (p *Posts) DeleteAction() *DeleteMutation {
	return p.del
}

// UpdateAction returns the update handle bound to this board.
func (p *Posts) UpdateAction() *UpdateMutation {
	return p.upd
}

// Delete runs the delete action for the selected post.
func (p *Posts) Delete(ctx context.Context) error {
	post, err := p.mustSelected()
	if err != nil {
		return err
	}
	_, err = p.del.Mutate(ctx, post.ID)
	return err
}

// StartDelete puts the delete action in pending and runs it in the
// background. The returned channel is closed when it finishes.
func (p *Posts) StartDelete(ctx context.Context) (<-chan struct{}, error) {
	post, err := p.mustSelected()
	if err != nil {
		return nil, err
	}
	return p.del.Start(ctx, post.ID), nil
}

// Update runs the update action for the selected post.
func (p *Posts) Update(ctx context.Context, title string) error {
	post, err := p.mustSelected()
	if err != nil {
		return err
	}
	_, err = p.upd.Mutate(ctx, UpdateVars{ID: post.ID, Title: title})
	return err
}

// StartUpdate is the background form of Update.
func (p *Posts) StartUpdate(ctx context.Context, title string) (<-chan struct{}, error) {
	post, err := p.mustSelected()
	if err != nil {
		return nil, err
	}
	return p.upd.Start(ctx, UpdateVars{ID: post.ID, Title: title}), nil
}

func (p *Posts) mustSelected() (models.Post, error) {
	post, ok := p.Selected()
	if !ok {
		return models.Post{}, fmt.Errorf("no post selected: %w", apperr.ErrInvalidInput)
	}
	return post, nil
}

// ListView is everything the list page renders. Fetching is set while the
// shown posts are being revalidated.
type ListView struct {
	Page         int
	MaxPage      int
	PrevDisabled bool
	NextDisabled bool
	Loading      bool
	Fetching     bool
	Error        string
	Posts        []models.Post
	Detail       *DetailView
}

// Waiting reports whether something on the page is still in flight, so the
// page should re-render when the cache settles.
func (v ListView) Waiting() bool {
	if v.Loading {
		return true
	}
	if d := v.Detail; d != nil {
		return d.CommentsLoading || d.Delete.Pending || d.Update.Pending
	}
	return false
}

// View requests the current page from the cache, prefetches the next page in
// the background, and builds the list view with the selected post's detail.
func (p *Posts) View(ctx context.Context) ListView {
	p.mu.Lock()
	page := p.page
	var selected *models.Post
	if p.selected != nil {
		s := *p.selected
		selected = &s
	}
	p.mu.Unlock()

	if page < p.opts.MaxPage {
		p.cache.Prefetch(PostsKey(page+1), PostsFetcher(p.src, page+1))
	}
	st := p.cache.Query(ctx, PostsKey(page), PostsFetcher(p.src, page))

	v := ListView{
		Page:         page,
		MaxPage:      p.opts.MaxPage,
		PrevDisabled: page <= 1,
		NextDisabled: page >= p.opts.MaxPage,
		Fetching:     st.Fetching,
	}
	switch {
	case st.Status == query.StatusError:
		v.Error = st.Err.Error()
	case st.HasData():
		v.Posts, _ = query.DataAs[[]models.Post](st)
	default:
		v.Loading = true
	}

	if selected != nil {
		d := Detail(ctx, p.cache, p.src, *selected, p.del, p.upd)
		v.Detail = &d
	}
	return v
}
