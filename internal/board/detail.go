package board

import (
	"context"

	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/query"
)

// ActionView is the banner state of one action. At most one of Pending,
// Failed and Succeeded is set.
type ActionView struct {
	Pending   bool
	Failed    bool
	Succeeded bool
	Error     string
}

func actionView[V, R any](s query.MutationState[V, R]) ActionView {
	switch s.Status {
	case query.StatusPending:
		return ActionView{Pending: true}
	case query.StatusError:
		return ActionView{Failed: true, Error: s.Err.Error()}
	case query.StatusSuccess:
		return ActionView{Succeeded: true}
	default:
		return ActionView{}
	}
}

// DetailView is everything the detail panel renders.
type DetailView struct {
	Post            models.Post
	Delete          ActionView
	Update          ActionView
	CommentsLoading bool
	CommentsError   string
	Comments        []models.Comment
}

// Lines returns one "email: body" line per comment.
func (d DetailView) Lines() []string {
	out := make([]string, 0, len(d.Comments))
	for _, c := range d.Comments {
		out = append(out, c.Email+": "+c.Body)
	}
	return out
}

// Detail builds the detail view of post. Action banners come from the
// handles alone; the only request issued here is the comments query.
func Detail(ctx context.Context, cache *query.Client, src Source, post models.Post, del *DeleteMutation, upd *UpdateMutation) DetailView {
	d := DetailView{
		Post:   post,
		Delete: actionView(del.State()),
		Update: actionView(upd.State()),
	}

	st := cache.Query(ctx, CommentsKey(post.ID), CommentsFetcher(src, post.ID))
	switch {
	case st.Status == query.StatusError:
		d.CommentsError = st.Err.Error()
	case st.HasData():
		d.Comments, _ = query.DataAs[[]models.Comment](st)
	default:
		d.CommentsLoading = true
	}
	return d
}
