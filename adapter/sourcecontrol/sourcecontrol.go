// Package sourcecontrol implements adapter.Adapter for the source-control
// integration kind (§4.2 variant 2), backed by GitLab. Client construction
// follows gitlab.NewClient(token, gitlab.WithBaseURL(url+"/api/v4")); the
// repo/PR enumeration below walks merge requests to a composite checkpoint
// covering every cursor the integration tracks.
package sourcecontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"pipelinecore.dev/adapter"
	"pipelinecore.dev/pipeline"
)

// BatchKind identifies raw payloads this adapter emits.
const BatchKind = "source-control"

// PageSize bounds merge requests fetched per page.
const PageSize = 50

// Checkpoint is the composite resume state (§3: "source-control uses
// {repo_queue, current_repo, pr_cursor, commit_cursor, review_cursor,
// comment_cursor, thread_cursor}"). Kept as one JSON object per SPEC_FULL.md
// §9's Open Question resolution, not five independent sub-streams.
type Checkpoint struct {
	RepoQueue     []string `json:"repo_queue"`
	CurrentRepo   string   `json:"current_repo"`
	PRCursor      int      `json:"pr_cursor"`
	CommitCursor  int      `json:"commit_cursor"`
	ReviewCursor  int      `json:"review_cursor"`
	CommentCursor int      `json:"comment_cursor"`
	ThreadCursor  int      `json:"thread_cursor"`
}

// Credentials is the decrypted blob this adapter expects.
type Credentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// Adapter implements adapter.Adapter against a GitLab instance. BaseSearch
// is a comma-separated project-path filter (e.g. "group/a,group/b"); an
// empty filter enumerates every project the token can see.
type Adapter struct{}

// New constructs the source-control adapter.
func New() *Adapter { return &Adapter{} }

// BatchKind returns the identifier attached to raw payloads.
func (a *Adapter) BatchKind() string { return BatchKind }

type session struct {
	client *gitlab.Client
}

// Connect authenticates against the GitLab instance named in credentials.
func (a *Adapter) Connect(ctx context.Context, rawCredentials []byte) (adapter.Session, error) {
	var creds Credentials
	if err := json.Unmarshal(rawCredentials, &creds); err != nil {
		return nil, pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode credentials: %w", err))
	}
	client, err := gitlab.NewClient(creds.Token, gitlab.WithBaseURL(creds.BaseURL+"/api/v4"))
	if err != nil {
		return nil, pipeline.Classify(pipeline.ErrorClassAuthRemote, fmt.Errorf("connect gitlab: %w", err))
	}
	return &session{client: client}, nil
}

// Plan enumerates projects matching baseSearch, then merge requests (with
// their commits/reviews/comments/threads) for each, resuming from the
// checkpoint's repo queue, current repo and merge-request page cursor. The
// commit, review, comment and thread cursors are carried in the checkpoint
// but never advanced or read, so a restart resumes at a merge-request page,
// not inside one merge request's inner lists.
func (a *Adapter) Plan(ctx context.Context, sess adapter.Session, baseSearch string, checkpoint []byte) (adapter.Plan, error) {
	s, ok := sess.(*session)
	if !ok {
		return nil, fmt.Errorf("sourcecontrol: invalid session type")
	}

	cp := Checkpoint{}
	if len(checkpoint) > 0 {
		if err := json.Unmarshal(checkpoint, &cp); err != nil {
			return nil, pipeline.Classify(pipeline.ErrorClassProtocol, fmt.Errorf("decode checkpoint: %w", err))
		}
	}

	if len(cp.RepoQueue) == 0 && cp.CurrentRepo == "" {
		repos, err := listProjects(s.client, baseSearch)
		if err != nil {
			return nil, err
		}
		cp.RepoQueue = repos
	}

	return &plan{session: s, cp: cp}, nil
}

func listProjects(client *gitlab.Client, baseSearch string) ([]string, error) {
	if baseSearch != "" {
		return strings.Split(baseSearch, ","), nil
	}
	var repos []string
	opts := &gitlab.ListProjectsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		projects, resp, err := client.Projects.ListProjects(opts)
		if err != nil {
			return nil, classifyGitlabError(err)
		}
		for _, p := range projects {
			repos = append(repos, p.PathWithNamespace)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

// plan walks the repo queue; for the repo currently in progress it
// enumerates merge requests a page at a time, and for each merge request
// fetches its commits, approvals (reviews), notes (comments) and
// discussions (threads) with one request each (the API's first page). Only
// the merge-request page cursor advances in the composite checkpoint.
type plan struct {
	session *session
	cp      Checkpoint
}

func (p *plan) Next(ctx context.Context) (*adapter.Page, []byte, bool, error) {
	if p.cp.CurrentRepo == "" {
		if len(p.cp.RepoQueue) == 0 {
			return nil, p.checkpointBytes(), true, nil
		}
		p.cp.CurrentRepo, p.cp.RepoQueue = p.cp.RepoQueue[0], p.cp.RepoQueue[1:]
		p.cp.PRCursor = 0
	}

	opts := &gitlab.ListProjectMergeRequestsOptions{
		ListOptions: gitlab.ListOptions{Page: page1(p.cp.PRCursor), PerPage: PageSize},
		OrderBy:     gitlab.Ptr("created_at"),
		Sort:        gitlab.Ptr("asc"),
	}
	mrs, resp, err := p.session.client.MergeRequests.ListProjectMergeRequests(p.cp.CurrentRepo, opts)
	if err != nil {
		return nil, nil, false, classifyGitlabError(err)
	}

	if len(mrs) == 0 {
		// This repo is exhausted; move to the next one on the following call.
		p.cp.CurrentRepo = ""
		p.cp.PRCursor = 0
		return nil, p.checkpointBytes(), false, nil
	}

	batch := make([]mergeRequestBundle, 0, len(mrs))
	for _, mr := range mrs {
		bundle := mergeRequestBundle{Repo: p.cp.CurrentRepo, MergeRequest: mr}
		if commits, _, err := p.session.client.MergeRequests.GetMergeRequestCommits(p.cp.CurrentRepo, mr.IID, nil); err == nil {
			bundle.Commits = commits
		}
		if notes, _, err := p.session.client.Notes.ListMergeRequestNotes(p.cp.CurrentRepo, mr.IID, nil); err == nil {
			bundle.Comments = notes
		}
		if discussions, _, err := p.session.client.Discussions.ListMergeRequestDiscussions(p.cp.CurrentRepo, mr.IID, nil); err == nil {
			bundle.Threads = discussions
		}
		if approvals, _, err := p.session.client.MergeRequestApprovals.GetApprovalState(p.cp.CurrentRepo, mr.IID); err == nil {
			bundle.Reviews = approvals
		}
		batch = append(batch, bundle)
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, nil, false, pipeline.Classify(pipeline.ErrorClassParse, err)
	}

	p.cp.PRCursor++
	var hint *int
	if resp != nil && resp.TotalPages > 0 {
		pct := p.cp.PRCursor * 100 / resp.TotalPages
		if pct > 100 {
			pct = 100
		}
		hint = &pct
	}

	return &adapter.Page{Payload: payload, ProgressHint: hint}, p.checkpointBytes(), false, nil
}

func page1(cursor int) int {
	if cursor <= 0 {
		return 1
	}
	return cursor + 1
}

type mergeRequestBundle struct {
	Repo         string      `json:"repo"`
	MergeRequest any         `json:"merge_request"`
	Commits      any         `json:"commits,omitempty"`
	Comments     any         `json:"comments,omitempty"`
	Threads      any         `json:"threads,omitempty"`
	Reviews      any         `json:"reviews,omitempty"`
}

func (p *plan) checkpointBytes() []byte {
	b, _ := json.Marshal(p.cp)
	return b
}

func classifyGitlabError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return pipeline.Classify(pipeline.ErrorClassAuthRemote, err)
	case strings.Contains(msg, "429"), strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"), strings.Contains(msg, "timeout"):
		return pipeline.Classify(pipeline.ErrorClassTransientRemote, err)
	default:
		return pipeline.Classify(pipeline.ErrorClassPermanentRemote, err)
	}
}
