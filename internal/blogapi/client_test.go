package blogapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/testutil"
)

func TestFetchPostsEveryPage(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	c := New(api.URL())

	for page := 1; page <= 10; page++ {
		posts, err := c.FetchPosts(context.Background(), page)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(posts) != 10 {
			t.Fatalf("page %d: got %d posts, want 10", page, len(posts))
		}
		if want := (page-1)*10 + 1; posts[0].ID != want {
			t.Errorf("page %d: first id = %d, want %d", page, posts[0].ID, want)
		}
	}
}

func TestFetchPostsRejectsPageZero(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	c := New(api.URL())

	_, err := c.FetchPosts(context.Background(), 0)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if n := api.Hits("GET /posts?_limit=10&_page=0"); n != 0 {
		t.Errorf("request issued for invalid page: %d hits", n)
	}
}

func TestFetchPostsPageSize(t *testing.T) {
	api := testutil.NewFakeAPI(t, 30)
	c := New(api.URL(), WithPageSize(5))

	posts, err := c.FetchPosts(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 5 || posts[0].ID != 6 {
		t.Errorf("got %d posts starting at %d", len(posts), posts[0].ID)
	}
}

func TestFetchComments(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	c := New(api.URL())

	comments, err := c.FetchComments(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].PostID != 3 {
		t.Fatalf("comments = %+v", comments)
	}
	if comments[0].Email != "reader3@example.com" {
		t.Errorf("email = %q", comments[0].Email)
	}
}

func TestStatusErrorSurface(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	api.FailWith("GET /comments", http.StatusInternalServerError)
	c := New(api.URL())

	_, err := c.FetchComments(context.Background(), 1)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", se.StatusCode)
	}
	if !strings.Contains(err.Error(), "status code 500") {
		t.Errorf("error text = %q", err.Error())
	}
	if api.Hits("GET /comments?postId=1") != 1 {
		t.Errorf("expected exactly one attempt, got %d", api.Hits("GET /comments?postId=1"))
	}
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	c := New(api.URL())

	err := c.DeletePost(context.Background(), 999)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAndUpdate(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	c := New(api.URL())

	if err := c.DeletePost(context.Background(), 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if api.Hits("DELETE /posts/2") != 1 {
		t.Error("delete request not issued")
	}

	post, err := c.UpdatePost(context.Background(), 2, "new title")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if post.ID != 2 || post.Title != "new title" {
		t.Errorf("post = %+v", post)
	}
}

func TestTransportError(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.FetchPosts(context.Background(), 1); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestCancelledContext(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	c := New(api.URL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchPosts(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
