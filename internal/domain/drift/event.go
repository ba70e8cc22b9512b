package drift

import (
	"encoding/json"
	"strings"

	"deltadrift/internal/errs"
)

// WebhookEvent is the closed set of provider events the router handles.
// Dispatch happens with a type switch, so adding a variant forces every
// handler site to be revisited.
type WebhookEvent interface {
	isWebhookEvent()
}

type Account struct {
	Login     string
	Type      string
	AvatarURL string
}

type RepoRef struct {
	FullName string
}

// InstallationCreated carries a new app installation together with the
// repositories it grants access to and the installing user's provider id.
type InstallationCreated struct {
	InstallationID int64
	Account        Account
	SenderUserID   int64
	Repositories   []RepoRef
}

type InstallationDeleted struct {
	InstallationID int64
}

type InstallationSuspended struct {
	InstallationID int64
	Suspended      bool
}

type RepositoriesAdded struct {
	InstallationID int64
	AvatarURL      string
	Repositories   []RepoRef
}

type RepositoriesRemoved struct {
	InstallationID int64
	Repositories   []RepoRef
}

// PullRequestChanged is emitted for pull_request opened/synchronize actions
// only; every other action is dropped during parsing.
type PullRequestChanged struct {
	InstallationID int64
	RepoFullName   string
	Number         int
	BaseBranch     string
	HeadBranch     string
	BaseSHA        string
	HeadSHA        string
	HeadIsFork     bool
}

func (InstallationCreated) isWebhookEvent()   {}
func (InstallationDeleted) isWebhookEvent()   {}
func (InstallationSuspended) isWebhookEvent() {}
func (RepositoriesAdded) isWebhookEvent()     {}
func (RepositoriesRemoved) isWebhookEvent()   {}
func (PullRequestChanged) isWebhookEvent()    {}

type payloadAccount struct {
	Login     string `json:"login"`
	Type      string `json:"type"`
	AvatarURL string `json:"avatar_url"`
}

type payloadInstallation struct {
	ID      int64          `json:"id"`
	Account payloadAccount `json:"account"`
}

type payloadRepo struct {
	FullName string `json:"full_name"`
}

type payloadBranchRef struct {
	Ref  string       `json:"ref"`
	SHA  string       `json:"sha"`
	Repo *payloadRepo `json:"repo"`
}

type eventPayload struct {
	Action       string              `json:"action"`
	Installation payloadInstallation `json:"installation"`
	Sender       struct {
		ID int64 `json:"id"`
	} `json:"sender"`
	Repositories        []payloadRepo `json:"repositories"`
	RepositoriesAdded   []payloadRepo `json:"repositories_added"`
	RepositoriesRemoved []payloadRepo `json:"repositories_removed"`
	Repository          payloadRepo   `json:"repository"`
	Number              int           `json:"number"`
	PullRequest         *struct {
		Base payloadBranchRef `json:"base"`
		Head payloadBranchRef `json:"head"`
	} `json:"pull_request"`
}

// ParseWebhookEvent decodes a raw webhook delivery into a typed event.
// Event types and pull-request actions outside the handled set return
// (nil, nil): they are valid deliveries the pipeline ignores.
func ParseWebhookEvent(eventType string, payload []byte) (WebhookEvent, error) {
	switch strings.TrimSpace(eventType) {
	case "installation", "installation_repositories", "pull_request":
	default:
		return nil, nil
	}

	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errs.Wrap(err, "decode webhook payload")
	}

	switch strings.TrimSpace(eventType) {
	case "installation":
		return parseInstallationEvent(p), nil
	case "installation_repositories":
		return parseRepositoriesEvent(p), nil
	case "pull_request":
		return parsePullRequestEvent(p), nil
	}
	return nil, nil
}

func parseInstallationEvent(p eventPayload) WebhookEvent {
	switch p.Action {
	case "created":
		return InstallationCreated{
			InstallationID: p.Installation.ID,
			Account: Account{
				Login:     p.Installation.Account.Login,
				Type:      p.Installation.Account.Type,
				AvatarURL: p.Installation.Account.AvatarURL,
			},
			SenderUserID: p.Sender.ID,
			Repositories: repoRefs(p.Repositories),
		}
	case "deleted":
		return InstallationDeleted{InstallationID: p.Installation.ID}
	case "suspend":
		return InstallationSuspended{InstallationID: p.Installation.ID, Suspended: true}
	case "unsuspend":
		return InstallationSuspended{InstallationID: p.Installation.ID, Suspended: false}
	}
	return nil
}

func parseRepositoriesEvent(p eventPayload) WebhookEvent {
	switch p.Action {
	case "added":
		return RepositoriesAdded{
			InstallationID: p.Installation.ID,
			AvatarURL:      p.Installation.Account.AvatarURL,
			Repositories:   repoRefs(p.RepositoriesAdded),
		}
	case "removed":
		return RepositoriesRemoved{
			InstallationID: p.Installation.ID,
			Repositories:   repoRefs(p.RepositoriesRemoved),
		}
	}
	return nil
}

func parsePullRequestEvent(p eventPayload) WebhookEvent {
	if p.Action != "opened" && p.Action != "synchronize" {
		return nil
	}
	if p.PullRequest == nil {
		return nil
	}

	headIsFork := false
	if p.PullRequest.Head.Repo != nil && p.PullRequest.Head.Repo.FullName != p.Repository.FullName {
		headIsFork = true
	}

	return PullRequestChanged{
		InstallationID: p.Installation.ID,
		RepoFullName:   p.Repository.FullName,
		Number:         p.Number,
		BaseBranch:     p.PullRequest.Base.Ref,
		HeadBranch:     p.PullRequest.Head.Ref,
		BaseSHA:        p.PullRequest.Base.SHA,
		HeadSHA:        p.PullRequest.Head.SHA,
		HeadIsFork:     headIsFork,
	}
}

func repoRefs(repos []payloadRepo) []RepoRef {
	if len(repos) == 0 {
		return nil
	}
	out := make([]RepoRef, 0, len(repos))
	for _, r := range repos {
		if strings.TrimSpace(r.FullName) == "" {
			continue
		}
		out = append(out, RepoRef{FullName: r.FullName})
	}
	return out
}
