// Package deletions keeps the set of remote resources that still have to
// be deleted on the server.
//
// The set is persisted on every change under Key. Like the tracker, it is
// owned by the coordinator's executor and is not safe for concurrent use.
package deletions

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/repositories/metadata"
)

// Key is the metadata key of the persisted locator list.
const Key = "deleteURLs"

// Set is an unordered set of remote locators.
type Set struct {
	repo metadata.Repository
	urls map[string]struct{}
	// intn picks the index of the next locator to try.
	intn func(n int) int
}

// Load reads the persisted set.
func Load(ctx context.Context, repo metadata.Repository) (*Set, error) {
	var urls []string
	if _, err := metadata.GetJSON(ctx, repo, Key, &urls); err != nil {
		return nil, fmt.Errorf("load %s: %w", Key, err)
	}

	s := &Set{repo: repo, urls: make(map[string]struct{}, len(urls)), intn: rand.IntN}
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return s, nil
}

// Add inserts a locator and persists the set. It reports whether the
// locator was new.
func (s *Set) Add(ctx context.Context, url string) (bool, error) {
	if _, ok := s.urls[url]; ok {
		return false, nil
	}
	s.urls[url] = struct{}{}
	if err := s.save(ctx); err != nil {
		delete(s.urls, url)
		return false, err
	}
	return true, nil
}

// Remove drops a locator once the server has confirmed it is gone.
func (s *Set) Remove(ctx context.Context, url string) error {
	if _, ok := s.urls[url]; !ok {
		return nil
	}
	delete(s.urls, url)
	if err := s.save(ctx); err != nil {
		s.urls[url] = struct{}{}
		return err
	}
	return nil
}

// Pick returns an arbitrary pending locator. There is no ordering between
// entries; a random pick keeps one stubborn locator from blocking the rest.
func (s *Set) Pick() (string, bool) {
	if len(s.urls) == 0 {
		return "", false
	}
	all := s.List()
	return all[s.intn(len(all))], true
}

// Len is the number of pending locators.
func (s *Set) Len() int { return len(s.urls) }

// List returns the pending locators sorted.
func (s *Set) List() []string {
	out := make([]string, 0, len(s.urls))
	for u := range s.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (s *Set) save(ctx context.Context) error {
	if err := metadata.SetJSON(ctx, s.repo, Key, s.List()); err != nil {
		return fmt.Errorf("save %s: %w", Key, err)
	}
	return nil
}
