// Package models defines the domain types for blogview.
package models

// Post is a blog post as served by the remote API.
type Post struct {
	ID     int    `json:"id" msgpack:"id"`
	UserID int    `json:"userId" msgpack:"user_id"`
	Title  string `json:"title" msgpack:"title"`
	Body   string `json:"body" msgpack:"body"`
}

// Comment belongs to exactly one post.
type Comment struct {
	ID     int    `json:"id" msgpack:"id"`
	PostID int    `json:"postId" msgpack:"post_id"`
	Name   string `json:"name" msgpack:"name"`
	Email  string `json:"email" msgpack:"email"`
	Body   string `json:"body" msgpack:"body"`
}
