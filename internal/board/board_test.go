package board

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/blogview/internal/apperr"
	"github.com/starford/blogview/internal/blogapi"
	"github.com/starford/blogview/internal/models"
	"github.com/starford/blogview/internal/query"
	"github.com/starford/blogview/internal/testutil"
)

func testBoard(t *testing.T, api *testutil.FakeAPI, opts Options) (*Posts, *query.Client) {
	t.Helper()
	cache := query.NewClient(
		query.WithStaleTime(time.Minute),
		query.WithRenderWait(2*time.Second),
	)
	t.Cleanup(cache.Close)
	return NewPosts(blogapi.New(api.URL()), cache, opts), cache
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPaginationScenario(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := testBoard(t, api, Options{MaxPage: 10})

	if p.Page() != 1 || p.CanPrev() || !p.CanNext() {
		t.Fatalf("start: page=%d prev=%v next=%v", p.Page(), p.CanPrev(), p.CanNext())
	}
	for i := 0; i < 5; i++ {
		p.Next()
	}
	if p.Page() != 6 || !p.CanPrev() || !p.CanNext() {
		t.Fatalf("after 5: page=%d prev=%v next=%v", p.Page(), p.CanPrev(), p.CanNext())
	}
	for i := 0; i < 4; i++ {
		p.Next()
	}
	if p.Page() != 10 || p.CanNext() {
		t.Fatalf("after 9: page=%d next=%v", p.Page(), p.CanNext())
	}
	if p.Next() {
		t.Error("Next moved past the last page")
	}
	if p.Page() != 10 {
		t.Errorf("page = %d", p.Page())
	}
}

func TestPrevDisabledOnFirstPage(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := testBoard(t, api, Options{})

	if p.Prev() {
		t.Fatal("Prev moved before page 1")
	}
	v := p.View(context.Background())
	if !v.PrevDisabled || v.NextDisabled {
		t.Errorf("prev=%v next=%v", v.PrevDisabled, v.NextDisabled)
	}
	if p.MaxPage() != DefaultMaxPage {
		t.Errorf("MaxPage = %d", p.MaxPage())
	}
}

func TestViewShowsEveryPage(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := testBoard(t, api, Options{MaxPage: 10})

	for page := 1; page <= 10; page++ {
		v := p.View(context.Background())
		if v.Page != page {
			t.Fatalf("view page = %d, want %d", v.Page, page)
		}
		if len(v.Posts) != 10 || v.Posts[0].ID != (page-1)*10+1 {
			t.Fatalf("page %d posts = %+v", page, v.Posts)
		}
		if v.PrevDisabled != (page == 1) || v.NextDisabled != (page == 10) {
			t.Errorf("page %d: prev=%v next=%v", page, v.PrevDisabled, v.NextDisabled)
		}
		p.Next()
	}
}

func TestViewPrefetchesNextPage(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := testBoard(t, api, Options{MaxPage: 10})

	p.View(context.Background())
	waitFor(t, func() bool { return api.Hits("GET /posts?_limit=10&_page=2") == 1 })

	p.Next()
	v := p.View(context.Background())
	if len(v.Posts) == 0 || v.Posts[0].ID != 11 {
		t.Fatalf("page 2 posts = %+v", v.Posts)
	}
	if n := api.Hits("GET /posts?_limit=10&_page=2"); n != 1 {
		t.Errorf("page 2 fetched %d times, want 1", n)
	}
}

func TestNoPrefetchOnLastPage(t *testing.T) {
	api := testutil.NewFakeAPI(t, 30)
	p, _ := testBoard(t, api, Options{MaxPage: 2})

	p.Next()
	p.View(context.Background())
	time.Sleep(30 * time.Millisecond)
	if n := api.Hits("GET /posts?_limit=10&_page=3"); n != 0 {
		t.Errorf("prefetched past last page: %d", n)
	}
}

func TestListError(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	api.FailWith("GET /posts", http.StatusServiceUnavailable)
	p, _ := testBoard(t, api, Options{})

	v := p.View(context.Background())
	if v.Error == "" || v.Loading || len(v.Posts) != 0 {
		t.Fatalf("view = %+v", v)
	}
	if !strings.Contains(v.Error, "503") {
		t.Errorf("error = %q", v.Error)
	}
}

func TestListLoading(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	release := api.Hold()
	defer release()

	cache := query.NewClient(query.WithRenderWait(10 * time.Millisecond))
	defer cache.Close()
	p := NewPosts(blogapi.New(api.URL()), cache, Options{})

	v := p.View(context.Background())
	if !v.Loading {
		t.Fatalf("view = %+v, want loading", v)
	}
}

func TestSelectedPostScenario(t *testing.T) {
	api := testutil.NewFakeAPI(t, 0)
	api.SetPosts([]models.Post{{ID: 5, Title: "T", Body: "B"}})
	api.SetComments(5, []models.Comment{{ID: 1, PostID: 5, Email: "a@x.com", Body: "hi"}})
	p, _ := testBoard(t, api, Options{})

	if err := p.SelectID(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	v := p.View(context.Background())
	if v.Detail == nil {
		t.Fatal("detail missing")
	}
	if v.Detail.Post.Title != "T" || v.Detail.Post.Body != "B" {
		t.Errorf("post = %+v", v.Detail.Post)
	}
	lines := v.Detail.Lines()
	if len(lines) != 1 || lines[0] != "a@x.com: hi" {
		t.Errorf("lines = %q", lines)
	}
}

func TestSelectUnknownID(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, _ := testBoard(t, api, Options{})

	err := p.SelectID(context.Background(), 99)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok := p.Selected(); ok {
		t.Error("nothing should be selected")
	}
}

func TestCommentsFailure(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	api.FailWith("GET /comments", http.StatusInternalServerError)
	p, _ := testBoard(t, api, Options{})

	p.Select(models.Post{ID: 1, Title: "post 1"})
	v := p.View(context.Background())
	if v.Detail.CommentsError == "" {
		t.Fatal("expected comments error")
	}
	if v.Detail.CommentsLoading || len(v.Detail.Comments) != 0 || len(v.Detail.Lines()) != 0 {
		t.Errorf("detail = %+v", v.Detail)
	}
}

func TestDeleteBanners(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, _ := testBoard(t, api, Options{})
	p.Select(models.Post{ID: 2})

	if err := p.Delete(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := p.View(context.Background()).Detail
	if !d.Delete.Succeeded || d.Delete.Failed || d.Delete.Pending {
		t.Errorf("after success: %+v", d.Delete)
	}

	api.FailWith("DELETE /posts", http.StatusInternalServerError)
	if err := p.Delete(context.Background()); err == nil {
		t.Fatal("expected delete failure")
	}
	d = p.View(context.Background()).Detail
	if !d.Delete.Failed || d.Delete.Succeeded || d.Delete.Pending {
		t.Errorf("after failure: %+v", d.Delete)
	}
	if !strings.Contains(d.Delete.Error, "status code 500") {
		t.Errorf("error = %q", d.Delete.Error)
	}
}

func TestDeletePendingBanner(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, cache := testBoard(t, api, Options{})
	p.Select(models.Post{ID: 2})
	cache.SetData(CommentsKey(2), []models.Comment{})
	cache.SetData(PostsKey(1), []models.Post{{ID: 2}})
	cache.SetData(PostsKey(2), []models.Post{})

	release := api.Hold()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Delete(context.Background())
	}()
	waitFor(t, func() bool { return p.DeleteAction().State().Pending() })

	v := p.View(context.Background())
	if !v.Detail.Delete.Pending || v.Detail.Delete.Succeeded || v.Detail.Delete.Failed {
		t.Errorf("pending banner = %+v", v.Detail.Delete)
	}
	if len(v.Posts) != 1 {
		t.Errorf("list unusable while delete pending: %+v", v)
	}
	release()
	wg.Wait()
}

func TestSelectResetsActions(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	api.FailWith("DELETE /posts", http.StatusInternalServerError)
	p, _ := testBoard(t, api, Options{})

	p.Select(models.Post{ID: 1})
	_ = p.Delete(context.Background())
	_ = p.Update(context.Background(), "renamed")
	if !p.DeleteAction().State().Failed() || !p.UpdateAction().State().Succeeded() {
		t.Fatalf("setup: delete=%v update=%v", p.DeleteAction().State().Status, p.UpdateAction().State().Status)
	}

	p.Select(models.Post{ID: 2})
	if !p.DeleteAction().State().Idle() || !p.UpdateAction().State().Idle() {
		t.Fatal("actions not reset on reselection")
	}
	d := p.View(context.Background()).Detail
	if d.Delete != (ActionView{}) || d.Update != (ActionView{}) {
		t.Errorf("banners leaked: delete=%+v update=%+v", d.Delete, d.Update)
	}
}

func TestSelectionSurvivesPageChange(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := testBoard(t, api, Options{})

	p.Select(models.Post{ID: 3, Title: "post 3"})
	p.Next()
	v := p.View(context.Background())
	if v.Detail == nil || v.Detail.Post.ID != 3 {
		t.Fatalf("selection lost on page change: %+v", v.Detail)
	}
}

func TestUpdateValidation(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, _ := testBoard(t, api, Options{})
	p.Select(models.Post{ID: 1})

	err := p.Update(context.Background(), "   ")
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if !p.UpdateAction().State().Failed() {
		t.Error("update should be in error state")
	}
	if api.Hits("PATCH /posts/1") != 0 {
		t.Error("invalid update reached the API")
	}
}

func TestActionsWithoutSelection(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, _ := testBoard(t, api, Options{})

	if err := p.Delete(context.Background()); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("delete err = %v", err)
	}
	if err := p.Update(context.Background(), "x"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("update err = %v", err)
	}
	if _, err := p.StartDelete(context.Background()); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("start delete err = %v", err)
	}
	if _, err := p.StartUpdate(context.Background(), "x"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("start update err = %v", err)
	}
	if p.View(context.Background()).Detail != nil {
		t.Error("detail rendered with nothing selected")
	}
}

func TestMutationLeavesListUntouchedByDefault(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, cache := testBoard(t, api, Options{})
	p.View(context.Background())
	p.Select(models.Post{ID: 1, Title: "post 1"})

	if err := p.Update(context.Background(), "renamed"); err != nil {
		t.Fatal(err)
	}
	if cache.Peek(PostsKey(1)).Stale {
		t.Error("list invalidated without InvalidateOnMutation")
	}
	if post, _ := p.Selected(); post.Title != "post 1" {
		t.Errorf("selected title = %q", post.Title)
	}
}

func TestInvalidateOnMutation(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	var mu sync.Mutex
	var names []string
	p, cache := testBoard(t, api, Options{
		InvalidateOnMutation: true,
		OnMutation: func(name string, s query.Status) {
			mu.Lock()
			defer mu.Unlock()
			names = append(names, name+":"+s.String())
		},
	})
	p.View(context.Background())
	p.Select(models.Post{ID: 1, Title: "post 1"})

	if err := p.Update(context.Background(), "renamed"); err != nil {
		t.Fatal(err)
	}
	if !cache.Peek(PostsKey(1)).Stale {
		t.Error("list page not invalidated")
	}
	if post, _ := p.Selected(); post.Title != "renamed" {
		t.Errorf("selected title = %q", post.Title)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(names) < 2 || names[len(names)-1] != "update:success" {
		t.Errorf("notifications = %v", names)
	}
}

// quickBoard gives up on a missing entry after 20ms so held requests show
// up as loading.
func quickBoard(t *testing.T, api *testutil.FakeAPI) (*Posts, *query.Client) {
	t.Helper()
	cache := query.NewClient(
		query.WithStaleTime(time.Minute),
		query.WithRenderWait(20*time.Millisecond),
	)
	t.Cleanup(cache.Close)
	cache.SetData(PostsKey(1), []models.Post{{ID: 2, Title: "two"}})
	cache.SetData(PostsKey(2), []models.Post{})
	return NewPosts(blogapi.New(api.URL()), cache, Options{}), cache
}

func TestWaitingWhileListLoads(t *testing.T) {
	api := testutil.NewFakeAPI(t, 100)
	p, _ := quickBoard(t, api)
	p.Next()
	p.Next()
	release := api.Hold()
	defer release()

	v := p.View(context.Background())
	if !v.Loading || !v.Waiting() {
		t.Fatalf("view = %+v, want loading and waiting", v)
	}
}

func TestWaitingWhileCommentsLoad(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, _ := quickBoard(t, api)
	release := api.Hold()
	defer release()
	p.Select(models.Post{ID: 2, Title: "two"})

	v := p.View(context.Background())
	if v.Loading || len(v.Posts) != 1 {
		t.Fatalf("list = %+v, want cached posts", v)
	}
	if !v.Detail.CommentsLoading || !v.Waiting() {
		t.Fatalf("detail = %+v, want comments loading", v.Detail)
	}

	release()
	waitFor(t, func() bool { return !p.View(context.Background()).Waiting() })
}

func TestWaitingWhileActionPending(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, cache := quickBoard(t, api)
	cache.SetData(CommentsKey(2), []models.Comment{})
	p.Select(models.Post{ID: 2, Title: "two"})
	if p.View(context.Background()).Waiting() {
		t.Fatal("settled page reported waiting")
	}

	release := api.Hold()
	defer release()
	done, err := p.StartDelete(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	v := p.View(context.Background())
	if !v.Detail.Delete.Pending || !v.Waiting() {
		t.Fatalf("delete = %+v, want pending and waiting", v.Detail.Delete)
	}

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delete did not finish")
	}
	v = p.View(context.Background())
	if v.Waiting() || !v.Detail.Delete.Succeeded {
		t.Errorf("after release: %+v", v.Detail.Delete)
	}
}

func TestStartUpdateRecordsResult(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, cache := quickBoard(t, api)
	cache.SetData(CommentsKey(2), []models.Comment{})
	p.Select(models.Post{ID: 2, Title: "two"})

	done, err := p.StartUpdate(context.Background(), "  ")
	if err != nil {
		t.Fatal(err)
	}
	<-done
	u := p.View(context.Background()).Detail.Update
	if !u.Failed || u.Pending {
		t.Errorf("blank title: %+v", u)
	}

	done, err = p.StartUpdate(context.Background(), "renamed")
	if err != nil {
		t.Fatal(err)
	}
	<-done
	u = p.View(context.Background()).Detail.Update
	if !u.Succeeded || u.Failed {
		t.Errorf("update: %+v", u)
	}
}

func TestFetchingWhileStaleListRevalidates(t *testing.T) {
	api := testutil.NewFakeAPI(t, 10)
	p, cache := quickBoard(t, api)
	release := api.Hold()
	defer release()
	cache.Invalidate(query.Key{"posts"})

	v := p.View(context.Background())
	if !v.Fetching || v.Loading {
		t.Fatalf("view = %+v, want fetching over cached data", v)
	}
	if len(v.Posts) != 1 || v.Posts[0].Title != "two" {
		t.Errorf("posts = %+v", v.Posts)
	}
	if v.Waiting() {
		t.Error("background revalidation should not hold the page")
	}

	release()
	waitFor(t, func() bool { return !p.View(context.Background()).Fetching })
}
