// Package tracker defines the work-item tracker contract the sync engine
// polls against, plus a REST-based adapter grounded in the original Azure
// DevOps client (ado_client.py): WIQL queries, per-item work-item fetches,
// and JSON-Patch create/update calls.
package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/papai0709/syncengine/pkg/synckit"
)

// RootType enumerates the work-item types the engine understands.
type RootType string

const (
	TypeEpic     RootType = "Epic"
	TypeFeature  RootType = "Feature"
	TypeStory    RootType = "Story"
	TypeTask     RootType = "Task"
	TypeTestCase RootType = "TestCase"
)

// Root is a single work item as read from the tracker.
type Root struct {
	ID             string
	Type           RootType
	Title          string
	Description    string
	State          string
	Priority       string
	AreaPath       string
	IterationPath  string
	LastModified   time.Time
	URL            string
}

// ExistingChild is a child work item already linked under a parent, used
// by the Reconciler as the "existing" side of a diff.
type ExistingChild struct {
	ID          string
	Title       string
	Description string
}

// Feature is one level of the nested hierarchy returned by GetHierarchy.
type Feature struct {
	Root
	Stories []ExistingChild
}

// Hierarchy is a root plus its nested features/stories.
type Hierarchy struct {
	Root     Root
	Features []Feature
}

// CreateFields are the work-item fields supplied when creating a new item.
type CreateFields struct {
	Title              string
	Description        string
	AcceptanceCriteria string
	State              string
}

// Adapter is the contract every tracker implementation must satisfy. The
// scheduler, sync worker, and reconciler depend only on this interface, not
// on any concrete tracker.
type Adapter interface {
	GetRoot(ctx context.Context, id string) (*Root, error)
	GetChildren(ctx context.Context, id string) ([]ExistingChild, error)
	GetHierarchy(ctx context.Context, rootID string) (*Hierarchy, error)
	ListByType(ctx context.Context, t RootType) ([]string, error)
	Create(ctx context.Context, t RootType, fields CreateFields, parentID string) (string, error)
	Update(ctx context.Context, id string, fields CreateFields) error
	LinkParentChild(ctx context.Context, parentID, childID string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// RESTAdapter is an Adapter backed by a work-item-tracking REST API (the
// shape exposed by Azure DevOps's wit/workitems endpoints). It authenticates
// with a personal access token sent as HTTP Basic auth, matching
// ado_client.py's BasicAuthentication(' ', pat).
type RESTAdapter struct {
	baseURL    string // e.g. https://dev.azure.com/<org>/<project>
	pat        string
	apiVersion string
	client     *http.Client
}

// NewRESTAdapter constructs a RESTAdapter. httpClient may be nil to use a
// default client with a 30s timeout.
func NewRESTAdapter(baseURL, pat string, httpClient *http.Client) *RESTAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pat:        pat,
		apiVersion: "7.1",
		client:     httpClient,
	}
}

func (a *RESTAdapter) authHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(":" + a.pat))
	return "Basic " + token
}

func (a *RESTAdapter) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return synckit.New(synckit.KindParse, "", fmt.Errorf("marshal request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	u := a.baseURL + path
	if len(query) > 0 {
		query.Set("api-version", a.apiVersion)
		u += "?" + query.Encode()
	} else {
		u += "?api-version=" + a.apiVersion
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return synckit.New(synckit.KindTrackerDown, "", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", a.authHeader())
	if body != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/json-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return synckit.New(synckit.KindTrackerDown, "", fmt.Errorf("call tracker: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return synckit.New(synckit.KindTrackerDown, "", fmt.Errorf("read response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return synckit.New(synckit.KindTrackerGone, "", synckit.ErrRootMissing)
	default:
		if resp.StatusCode >= 500 {
			return synckit.New(synckit.KindTrackerDown, "", fmt.Errorf("tracker returned %d: %s", resp.StatusCode, respBody))
		}
		if resp.StatusCode >= 400 {
			return synckit.New(synckit.KindTrackerDown, "", fmt.Errorf("tracker returned %d: %s", resp.StatusCode, respBody))
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return synckit.New(synckit.KindParse, "", fmt.Errorf("parse tracker response: %w", err))
		}
	}
	return nil
}

type workItemFields struct {
	Title         string `json:"System.Title"`
	Description   string `json:"System.Description"`
	State         string `json:"System.State"`
	WorkItemType  string `json:"System.WorkItemType"`
	Priority      string `json:"Microsoft.VSTS.Common.Priority"`
	AreaPath      string `json:"System.AreaPath"`
	IterationPath string `json:"System.IterationPath"`
	ChangedDate   string `json:"System.ChangedDate"`
}

type workItem struct {
	ID     int                    `json:"id"`
	URL    string                 `json:"url"`
	Fields map[string]any         `json:"fields"`
	Relations []struct {
		Rel string `json:"rel"`
		URL string `json:"url"`
	} `json:"relations"`
}

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func toRoot(wi workItem) Root {
	lastMod := fieldString(wi.Fields, "System.ChangedDate")
	t, _ := time.Parse(time.RFC3339, lastMod)
	return Root{
		ID:            strconv.Itoa(wi.ID),
		Type:          RootType(fieldString(wi.Fields, "System.WorkItemType")),
		Title:         fieldString(wi.Fields, "System.Title"),
		Description:   fieldString(wi.Fields, "System.Description"),
		State:         fieldString(wi.Fields, "System.State"),
		Priority:      fieldString(wi.Fields, "Microsoft.VSTS.Common.Priority"),
		AreaPath:      fieldString(wi.Fields, "System.AreaPath"),
		IterationPath: fieldString(wi.Fields, "System.IterationPath"),
		LastModified:  t,
		URL:           wi.URL,
	}
}

// GetRoot fetches a single work item by ID.
func (a *RESTAdapter) GetRoot(ctx context.Context, id string) (*Root, error) {
	var wi workItem
	if err := a.doJSON(ctx, http.MethodGet, "/_apis/wit/workitems/"+url.PathEscape(id), nil, nil, &wi); err != nil {
		return nil, err
	}
	root := toRoot(wi)
	return &root, nil
}

// Exists reports whether id resolves to a work item, distinguishing a 404
// (tracker-not-found) from any other error.
func (a *RESTAdapter) Exists(ctx context.Context, id string) (bool, error) {
	_, err := a.GetRoot(ctx, id)
	if err == nil {
		return true, nil
	}
	if synckit.Is(err, synckit.KindTrackerGone) {
		return false, nil
	}
	return false, err
}

// wiqlResult is the response shape of a WIQL query.
type wiqlResult struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

// ListByType runs a WIQL query for every work item of the given type and
// returns the IDs the query lists; the work items themselves are not
// fetched.
func (a *RESTAdapter) ListByType(ctx context.Context, t RootType) ([]string, error) {
	query := map[string]string{
		"query": fmt.Sprintf(
			`SELECT [System.Id] FROM WorkItems WHERE [System.WorkItemType] = '%s'`, string(t),
		),
	}

	var result wiqlResult
	if err := a.doJSON(ctx, http.MethodPost, "/_apis/wit/wiql", nil, query, &result); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.WorkItems))
	for _, wi := range result.WorkItems {
		ids = append(ids, strconv.Itoa(wi.ID))
	}
	return ids, nil
}

// childrenResult is the response shape for a batched work-items-with-relations fetch.
type childrenResult struct {
	Value []workItem `json:"value"`
}

// GetChildren returns the direct children of id (items linked from id by
// a System.LinkTypes.Hierarchy-Forward relation).
func (a *RESTAdapter) GetChildren(ctx context.Context, id string) ([]ExistingChild, error) {
	var wi workItem
	q := url.Values{"$expand": []string{"relations"}}
	if err := a.doJSON(ctx, http.MethodGet, "/_apis/wit/workitems/"+url.PathEscape(id), q, nil, &wi); err != nil {
		return nil, err
	}

	var childIDs []string
	for _, rel := range wi.Relations {
		if rel.Rel == "System.LinkTypes.Hierarchy-Forward" {
			parts := strings.Split(rel.URL, "/")
			childIDs = append(childIDs, parts[len(parts)-1])
		}
	}

	children := make([]ExistingChild, 0, len(childIDs))
	for _, cid := range childIDs {
		child, err := a.GetRoot(ctx, cid)
		if err != nil {
			continue // a single broken link shouldn't fail the whole fetch
		}
		children = append(children, ExistingChild{ID: child.ID, Title: child.Title, Description: child.Description})
	}
	return children, nil
}

// GetHierarchy returns rootID plus its features and each feature's stories,
// for the sync-hierarchy/hierarchy-status control-surface operations.
func (a *RESTAdapter) GetHierarchy(ctx context.Context, rootID string) (*Hierarchy, error) {
	root, err := a.GetRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	featureChildren, err := a.GetChildren(ctx, rootID)
	if err != nil {
		return nil, err
	}

	hierarchy := &Hierarchy{Root: *root}
	for _, fc := range featureChildren {
		featureRoot, err := a.GetRoot(ctx, fc.ID)
		if err != nil {
			continue
		}
		stories, err := a.GetChildren(ctx, fc.ID)
		if err != nil {
			stories = nil
		}
		hierarchy.Features = append(hierarchy.Features, Feature{Root: *featureRoot, Stories: stories})
	}
	return hierarchy, nil
}

type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Create creates a new work item of type t with fields, optionally linking
// it under parentID, using a JSON-Patch document (the REST API's only
// write format for work items).
func (a *RESTAdapter) Create(ctx context.Context, t RootType, fields CreateFields, parentID string) (string, error) {
	ops := []jsonPatchOp{
		{Op: "add", Path: "/fields/System.Title", Value: fields.Title},
		{Op: "add", Path: "/fields/System.Description", Value: fields.Description},
	}
	if fields.AcceptanceCriteria != "" {
		ops = append(ops, jsonPatchOp{Op: "add", Path: "/fields/Microsoft.VSTS.Common.AcceptanceCriteria", Value: fields.AcceptanceCriteria})
	}

	var wi workItem
	path := fmt.Sprintf("/_apis/wit/workitems/$%s", url.PathEscape(string(t)))
	if err := a.doJSON(ctx, http.MethodPatch, path, nil, ops, &wi); err != nil {
		return "", err
	}

	id := strconv.Itoa(wi.ID)
	if parentID != "" {
		if err := a.LinkParentChild(ctx, parentID, id); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Update patches an existing work item's fields.
func (a *RESTAdapter) Update(ctx context.Context, id string, fields CreateFields) error {
	var ops []jsonPatchOp
	if fields.Title != "" {
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/fields/System.Title", Value: fields.Title})
	}
	if fields.Description != "" {
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/fields/System.Description", Value: fields.Description})
	}
	if fields.AcceptanceCriteria != "" {
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/fields/Microsoft.VSTS.Common.AcceptanceCriteria", Value: fields.AcceptanceCriteria})
	}
	if fields.State != "" {
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/fields/System.State", Value: fields.State})
	}
	if len(ops) == 0 {
		return nil
	}

	return a.doJSON(ctx, http.MethodPatch, "/_apis/wit/workitems/"+url.PathEscape(id), nil, ops, nil)
}

// LinkParentChild adds a parent-child hierarchy relation between two
// existing work items.
func (a *RESTAdapter) LinkParentChild(ctx context.Context, parentID, childID string) error {
	ops := []struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{
		{
			Op:   "add",
			Path: "/relations/-",
			Value: map[string]any{
				"rel": "System.LinkTypes.Hierarchy-Reverse",
				"url": a.baseURL + "/_apis/wit/workitems/" + url.PathEscape(parentID),
			},
		},
	}
	return a.doJSON(ctx, http.MethodPatch, "/_apis/wit/workitems/"+url.PathEscape(childID), nil, ops, nil)
}
