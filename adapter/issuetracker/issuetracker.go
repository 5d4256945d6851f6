// Package issuetracker implements adapter.Adapter for the issue-tracker
// integration kind (§4.2 variant 1), backed by a Gitea instance. Client
// construction and token auth follow gitea.NewClient(url,
// gitea.SetToken(token)); enumeration and pagination walk Gitea's issue
// listing to resumable-cursor semantics.
package issuetracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"code.gitea.io/sdk/gitea"

	"pipelinecore.dev/adapter"
	"pipelinecore.dev/pipeline"
)

// BatchKind identifies raw payloads this adapter emits for the Transform
// Worker's normalizer dispatch.
const BatchKind = "issue-tracker"

// PageSize bounds how many work items one page (and therefore one raw
// batch) carries, per §2 component 5 ("one page yields <= N work items").
const PageSize = 50

// Checkpoint is the JSON shape stored on Job.CheckpointData for this
// adapter (§3: "issue-tracker uses {last_cursor, current_page_node}").
type Checkpoint struct {
	LastCursor      string `json:"last_cursor"`
	CurrentPageNode int    `json:"current_page_node"`
}

// Credentials is the decrypted blob this adapter expects from the
// credentials store.
type Credentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// Adapter implements adapter.Adapter against a Gitea instance, treating
// BaseSearch as "owner/repo" and each issue page as a work-item batch.
type Adapter struct{}

// New constructs the issue-tracker adapter.
func New() *Adapter { return &Adapter{} }

// BatchKind returns the identifier attached to raw payloads.
func (a *Adapter) BatchKind() string { return BatchKind }

type session struct {
	client     *gitea.Client
	owner, repo string
}

// Connect authenticates against the Gitea instance named in credentials.
func (a *Adapter) Connect(ctx context.Context, rawCredentials []byte) (adapter.Session, error) {
	var creds Credentials
	if err := json.Unmarshal(rawCredentials, &creds); err != nil {
		return nil, pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode credentials: %w", err))
	}
	client, err := gitea.NewClient(creds.BaseURL, gitea.SetToken(creds.Token), gitea.SetContext(ctx))
	if err != nil {
		return nil, pipeline.Classify(pipeline.ErrorClassAuthRemote, fmt.Errorf("connect gitea: %w", err))
	}
	return &session{client: client}, nil
}

// Plan builds a lazy page sequence over the filter expression in
// baseSearch ("owner/repo"), resuming from checkpoint when present.
func (a *Adapter) Plan(ctx context.Context, sess adapter.Session, baseSearch string, checkpoint []byte) (adapter.Plan, error) {
	s, ok := sess.(*session)
	if !ok {
		return nil, fmt.Errorf("issuetracker: invalid session type")
	}
	owner, repo, err := splitOwnerRepo(baseSearch)
	if err != nil {
		return nil, pipeline.Classify(pipeline.ErrorClassPermanentRemote, err)
	}
	s.owner, s.repo = owner, repo

	cp := Checkpoint{}
	if len(checkpoint) > 0 {
		if err := json.Unmarshal(checkpoint, &cp); err != nil {
			return nil, pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode checkpoint: %w", err))
		}
	}
	startPage := cp.CurrentPageNode
	if startPage == 0 {
		startPage = 1
	}
	return &plan{session: s, page: startPage}, nil
}

func splitOwnerRepo(baseSearch string) (string, string, error) {
	for i := 0; i < len(baseSearch); i++ {
		if baseSearch[i] == '/' {
			return baseSearch[:i], baseSearch[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("issuetracker: base_search %q must be owner/repo", baseSearch)
}

// plan enumerates issues page by page using Gitea's offset pagination.
// Gitea has no opaque server-side cursor token, so the "cursor" in §4.2's
// contract is the page number itself. The last external key seen is
// recorded in the checkpoint, but Plan resumes from the page number alone
// and does not use it to skip pages, so a replayed page is staged again.
type plan struct {
	session *session
	page    int
	lastKey string
	total   int
	known   bool
}

func (p *plan) Next(ctx context.Context) (*adapter.Page, []byte, bool, error) {
	issues, resp, err := p.session.client.ListRepoIssues(p.session.owner, p.session.repo, gitea.ListIssueOption{
		ListOptions: gitea.ListOptions{Page: p.page, PageSize: PageSize},
		Type:        gitea.IssueTypeIssue,
		State:       gitea.StateAll,
		Sort:        "created",
		Order:       "asc",
	})
	if err != nil {
		return nil, nil, false, classifyGiteaError(err)
	}
	if !p.known && resp != nil {
		p.total = resp.TotalCount
		p.known = p.total > 0
	}

	if len(issues) == 0 {
		return nil, p.checkpointBytes(), true, nil
	}

	payload, err := json.Marshal(issues)
	if err != nil {
		return nil, nil, false, pipeline.Classify(pipeline.ErrorClassParse, err)
	}

	p.lastKey = fmt.Sprintf("%s/%s#%d", p.session.owner, p.session.repo, issues[len(issues)-1].Index)
	var hint *int
	if p.known {
		processed := p.page * PageSize
		pct := processed * 100 / p.total
		if pct > 100 {
			pct = 100
		}
		hint = &pct
	}
	p.page++

	return &adapter.Page{Payload: payload, ProgressHint: hint}, p.checkpointBytes(), false, nil
}

func (p *plan) checkpointBytes() []byte {
	b, _ := json.Marshal(Checkpoint{LastCursor: p.lastKey, CurrentPageNode: p.page})
	return b
}

func classifyGiteaError(err error) error {
	// Gitea's SDK surfaces remote status in the error text; route rate
	// limit and 5xx through the transient path, 401/403 through auth, and
	// everything else as a permanent failure (§7 taxonomy).
	msg := err.Error()
	switch {
	case containsAny(msg, "401", "403"):
		return pipeline.Classify(pipeline.ErrorClassAuthRemote, err)
	case containsAny(msg, "429", "500", "502", "503", "504", "timeout"):
		return pipeline.Classify(pipeline.ErrorClassTransientRemote, err)
	default:
		return pipeline.Classify(pipeline.ErrorClassPermanentRemote, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
