package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrEmptyInput is returned when a bookmark is submitted without a title, url or owner.
var ErrEmptyInput = errors.New("title, url and owner are required")

// Bookmark is a saved URL belonging to exactly one user.
//
// Rows are created and deleted, never edited in place. Visibility and
// mutation rights are enforced by the backend's row policy; every write
// issued from here is additionally scoped by Owner.
type Bookmark struct {
	// ID is assigned by the backend.
	ID string `json:"id"`

	// Title is the display string shown in the list.
	Title string `json:"title"`

	// URL is expected to be absolute; only the HTTP boundary checks its shape.
	URL string `json:"url"`

	// Owner is the authenticated user id (column user_id).
	Owner string `json:"user_id"`

	// CreatedAt drives list ordering, newest first.
	CreatedAt time.Time `json:"created_at"`
}

// NewBookmark is the insert payload.
type NewBookmark struct {
	Title string `json:"title" validate:"required"`
	URL   string `json:"url" validate:"required"`
	Owner string `json:"user_id" validate:"required"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance, keyed on json tag names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonTagName)
	})
	return validate
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Normalize trims the submitted fields and checks none is empty.
func (n NewBookmark) Normalize() (NewBookmark, error) {
	out := NewBookmark{
		Title: strings.TrimSpace(n.Title),
		URL:   strings.TrimSpace(n.URL),
		Owner: strings.TrimSpace(n.Owner),
	}
	if err := Validator().Struct(out); err != nil {
		return NewBookmark{}, fmt.Errorf("%w: %v", ErrEmptyInput, err)
	}
	return out, nil
}

// SortNewestFirst orders bookmarks by creation time descending, ties broken by id.
func SortNewestFirst(list []Bookmark) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
