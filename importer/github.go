// Package importer turns a local author's public GitHub activity into
// PUBLIC markdown entries.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
)

const (
	defaultAPI     = "https://api.github.com"
	maxEventsBytes = 1 << 20
	authorsPerPage = 50
)

// Pusher sends a freshly created local entry to the author's followers.
type Pusher interface {
	Entry(ctx context.Context, e *domain.Entry)
}

type GitHub struct {
	self   string
	api    string
	client *http.Client
	store  *db.DB
	pusher Pusher
	logger *log.Logger
}

// NewGitHub builds an importer against api, the GitHub REST base URL. An
// empty api means the public GitHub.
func NewGitHub(self, api string, timeout time.Duration, store *db.DB, pusher Pusher, logger *log.Logger) *GitHub {
	if api == "" {
		api = defaultAPI
	}
	return &GitHub{
		self:   domain.NormalizeHost(self),
		api:    strings.TrimRight(api, "/"),
		client: &http.Client{Timeout: timeout},
		store:  store,
		pusher: pusher,
		logger: logger.WithPrefix("github"),
	}
}

type event struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload struct {
		Description string `json:"description"`
		Commits     []struct {
			Sha     string `json:"sha"`
			Url     string `json:"url"`
			Message string `json:"message"`
		} `json:"commits"`
	} `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Username extracts the login from a profile URL such as
// https://github.com/alice. An empty string means there is nothing to import.
func Username(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return ""
	}
	if u, err := url.Parse(profile); err == nil && u.Host != "" {
		profile = u.Path
	}
	return domain.LastSegment(profile)
}

// Import fetches author's public events and stores the ones not seen yet,
// oldest first. It returns how many entries were created.
func (g *GitHub) Import(ctx context.Context, author *domain.Author) (int, error) {
	if !author.IsLocal {
		return 0, fmt.Errorf("%w: %s is not hosted here", domain.ErrValidation, author.Id)
	}
	username := Username(author.Github)
	if username == "" {
		return 0, nil
	}
	events, err := g.fetch(ctx, username)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		e, ok := g.toEntry(author, ev)
		if !ok {
			continue
		}
		_, err := g.store.ReadEntryByAuthorSerial(ctx, author.Id, e.Serial)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return created, err
		}
		if err := g.store.CreateEntry(ctx, e); err != nil {
			g.logger.Warn("failed to store github event", "author", author.Id, "event", ev.Id, "err", err)
			continue
		}
		e.Author = author
		g.pusher.Entry(ctx, e)
		created++
	}
	if created > 0 {
		g.logger.Info("imported github activity", "author", author.Id, "entries", created)
	}
	return created, nil
}

// ImportAll runs Import for every local author with a GitHub profile. One
// author's failure does not stop the others.
func (g *GitHub) ImportAll(ctx context.Context) int {
	var authors []domain.Author
	for page := 1; ; page++ {
		batch, err := g.store.ReadLocalAuthors(ctx, page, authorsPerPage)
		if err != nil {
			g.logger.Error("failed to list local authors", "err", err)
			break
		}
		authors = append(authors, batch...)
		if len(batch) < authorsPerPage {
			break
		}
	}

	total := 0
	for i := range authors {
		if authors[i].Github == "" {
			continue
		}
		n, err := g.Import(ctx, &authors[i])
		if err != nil {
			g.logger.Warn("github import failed", "author", authors[i].Id, "err", err)
		}
		total += n
	}
	return total
}

// Run imports on every tick of every until ctx is done.
func (g *GitHub) Run(ctx context.Context, every time.Duration) {
	g.logger.Info("starting github import", "every", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		g.ImportAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *GitHub) fetch(ctx context.Context, username string) ([]event, error) {
	endpoint := fmt.Sprintf("%s/users/%s/events/public", g.api, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "socialdistro")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: github status %d for %s", domain.ErrRemoteUnreachable, resp.StatusCode, username)
	}

	var events []event
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxEventsBytes)).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode github events for %s: %w", username, err)
	}
	return events, nil
}

// toEntry renders the event types worth an entry. The serial is derived from
// the event id so a repeated import finds the earlier entry.
func (g *GitHub) toEntry(author *domain.Author, ev event) (*domain.Entry, bool) {
	if ev.Id == "" || ev.Repo.Name == "" {
		return nil, false
	}
	repo := ev.Repo.Name
	repoURL := "https://github.com/" + repo

	var title, description, content string
	switch ev.Type {
	case "PushEvent":
		commits := ev.Payload.Commits
		if len(commits) == 0 {
			return nil, false
		}
		plural := ""
		if len(commits) > 1 {
			plural = "s"
		}
		title = fmt.Sprintf("Pushed %d commit%s to %s", len(commits), plural, repo)
		description = commits[0].Message
		lines := []string{fmt.Sprintf("### Commits pushed to `%s`:", repo)}
		for _, c := range commits {
			sha := c.Sha
			if len(sha) > 7 {
				sha = sha[:7]
			}
			link := strings.Replace(c.Url, "api.github.com/repos", "github.com", 1)
			lines = append(lines, fmt.Sprintf("- [`%s`](%s): %s", sha, link, c.Message))
		}
		content = strings.Join(lines, "\n")
	case "CreateEvent":
		title = "Created a new repository: " + repo
		description = ev.Payload.Description
		if description == "" {
			description = "A new project was started."
		}
		content = fmt.Sprintf("I just created a new public repository named **[%s](%s)**.", repo, repoURL)
	case "WatchEvent":
		title = "Starred a repository: " + repo
		description = fmt.Sprintf("I'm now following the %s repository.", repo)
		content = fmt.Sprintf("I starred the repository **[%s](%s)** to follow its progress.", repo, repoURL)
	default:
		return nil, false
	}

	serial := "github-" + ev.Id
	return &domain.Entry{
		Id:          domain.EntryID(g.self, author.Serial, serial),
		Serial:      serial,
		AuthorId:    author.Id,
		Title:       title,
		Description: description,
		ContentType: domain.ContentTypeMarkdown,
		Content:     content,
		Visibility:  domain.VisibilityPublic,
		Published:   ev.CreatedAt.UTC(),
	}, true
}
