package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewBookmarkNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      NewBookmark
		want    NewBookmark
		wantErr bool
	}{
		{
			name: "trims fields",
			in:   NewBookmark{Title: "  Docs ", URL: " https://example.com ", Owner: "u1"},
			want: NewBookmark{Title: "Docs", URL: "https://example.com", Owner: "u1"},
		},
		{
			name:    "empty title",
			in:      NewBookmark{Title: "", URL: "https://example.com", Owner: "u1"},
			wantErr: true,
		},
		{
			name:    "whitespace title",
			in:      NewBookmark{Title: "   ", URL: "https://example.com", Owner: "u1"},
			wantErr: true,
		},
		{
			name:    "empty url",
			in:      NewBookmark{Title: "Docs", URL: "", Owner: "u1"},
			wantErr: true,
		},
		{
			name:    "missing owner",
			in:      NewBookmark{Title: "Docs", URL: "https://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyInput) {
					t.Errorf("Normalize() error = %v, want ErrEmptyInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []Bookmark{
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "b", CreatedAt: base.Add(time.Minute)},
		{ID: "d", CreatedAt: base.Add(time.Minute)},
	}

	SortNewestFirst(list)

	want := []string{"c", "d", "b", "a"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("SortNewestFirst()[%d] = %v, want %v", i, list[i].ID, id)
		}
	}
}

func TestProfileOf(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    Profile
	}{
		{
			name:    "full profile",
			session: Session{Name: "ada lovelace", Email: "ada@example.com", AvatarURL: "https://img/a.png"},
			want:    Profile{Name: "ada lovelace", Email: "ada@example.com", Avatar: "https://img/a.png", Initial: "A"},
		},
		{
			name:    "no name",
			session: Session{Email: "anon@example.com"},
			want:    Profile{Name: "User", Email: "anon@example.com", Initial: "U"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfileOf(&tt.session)
			if got != tt.want {
				t.Errorf("ProfileOf() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNameFromMetadata(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]interface{}
		want string
	}{
		{"full_name wins", map[string]interface{}{"full_name": "Ada Lovelace", "name": "ada"}, "Ada Lovelace"},
		{"falls back to name", map[string]interface{}{"name": "ada"}, "ada"},
		{"empty full_name skipped", map[string]interface{}{"full_name": "", "name": "ada"}, "ada"},
		{"nothing", map[string]interface{}{}, ""},
		{"nil map", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameFromMetadata(tt.meta); got != tt.want {
				t.Errorf("NameFromMetadata() = %v, want %v", got, tt.want)
			}
		})
	}
}
