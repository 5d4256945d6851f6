package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"pipelinecore.dev/config"
	"pipelinecore.dev/pipeline"
)

// projectRow, userRow, etc. are the gorm-tagged persistence shapes for the
// canonical entity graph (§3). Every row carries tenant_id as part of its
// primary key so a query that forgets the tenant filter still cannot cross
// tenants by accident within a single row lookup, and composite upserts
// never collide across tenants.
type projectRow struct {
	TenantID    int64  `gorm:"primaryKey;column:tenant_id"`
	ExternalKey string `gorm:"primaryKey;column:external_key"`
	Name        string
	Metadata    []byte `gorm:"type:jsonb"`
}

func (projectRow) TableName() string { return "projects" }

type userRow struct {
	TenantID    int64  `gorm:"primaryKey;column:tenant_id"`
	ExternalKey string `gorm:"primaryKey;column:external_key"`
	DisplayName string
	Email       string
}

func (userRow) TableName() string { return "users" }

type workflowRow struct {
	TenantID int64  `gorm:"primaryKey;column:tenant_id"`
	ID       string `gorm:"primaryKey"`
	Name     string
}

func (workflowRow) TableName() string { return "workflows" }

type statusRow struct {
	TenantID   int64  `gorm:"primaryKey;column:tenant_id"`
	ID         string `gorm:"primaryKey"`
	WorkflowID string
	Name       string
}

func (statusRow) TableName() string { return "statuses" }

type mappingRow struct {
	TenantID       int64  `gorm:"primaryKey;column:tenant_id"`
	ExternalStatus string `gorm:"primaryKey;column:external_status"`
	CanonicalState string
}

func (mappingRow) TableName() string { return "mappings" }

type hierarchyRow struct {
	TenantID       int64  `gorm:"primaryKey;column:tenant_id"`
	ParentExternal string `gorm:"primaryKey;column:parent_external"`
	ChildExternal  string `gorm:"primaryKey;column:child_external"`
}

func (hierarchyRow) TableName() string { return "hierarchies" }

type workItemRow struct {
	TenantID            int64  `gorm:"primaryKey;column:tenant_id"`
	ExternalKey         string `gorm:"primaryKey;column:external_key"`
	ProjectExternalKey  string
	AssigneeExternalKey string
	Status              string
	WorkflowID          string
	Priority            string
	Summary             string
	Description         string
	AcceptanceCriteria  string
	LeadTimeMinutes     *int64
	WorkStartsCount     int
	ReworkIndicator     bool
	WorkflowComplexity  float64
	ParseError          string
	UpdatedAt           time.Time
}

func (workItemRow) TableName() string { return "work_items" }

type pullRequestRow struct {
	TenantID          int64  `gorm:"primaryKey;column:tenant_id"`
	ExternalID        string `gorm:"primaryKey;column:external_id"`
	Repository        string
	AuthorExternalKey string
	OpenedAt          time.Time
	MergedAt          *time.Time
	ClosedAt          *time.Time
	UpdatedAt         time.Time
}

func (pullRequestRow) TableName() string { return "pull_requests" }

type linkRow struct {
	TenantID              int64  `gorm:"primaryKey;column:tenant_id"`
	WorkItemExternalKey   string `gorm:"primaryKey;column:work_item_external_key"`
	PullRequestExternalID string `gorm:"primaryKey;column:pull_request_external_id"`
}

func (linkRow) TableName() string { return "work_item_pull_request_links" }

// CatalogStore persists the canonical entity graph the Load Worker upserts
// into, one gorm.DB per process shared across tenants (every query is
// tenant-scoped by primary key, never by a separate WHERE clause alone).
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore opens a gorm connection and bounds its pool: idle/open
// connection limits and a capped connection lifetime, sized from cfg
// (config.LoadDatabaseConfig). The pgx pool from NewPostgresPool sets no
// such limits.
func NewCatalogStore(dsn string, cfg config.DatabaseConfig) (*CatalogStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog store handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &CatalogStore{db: gdb}, nil
}

// Migrate creates or updates the canonical entity tables.
func (c *CatalogStore) Migrate() error {
	return c.db.AutoMigrate(
		&projectRow{}, &userRow{}, &workflowRow{}, &statusRow{},
		&mappingRow{}, &hierarchyRow{}, &workItemRow{}, &pullRequestRow{}, &linkRow{},
	)
}

func onConflictUpdateAll(keyColumns ...string) clause.OnConflict {
	columns := make([]clause.Column, len(keyColumns))
	for i, c := range keyColumns {
		columns[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: columns, UpdateAll: true}
}

// UpsertProject inserts or updates a project, keyed on (tenant_id, external_key).
func (c *CatalogStore) UpsertProject(p *pipeline.Project) error {
	row := projectRow{TenantID: p.TenantID, ExternalKey: p.ExternalKey, Name: p.Name}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "external_key")).Create(&row).Error
}

// UpsertUser inserts or updates a resolved user identity.
func (c *CatalogStore) UpsertUser(u *pipeline.User) error {
	row := userRow{TenantID: u.TenantID, ExternalKey: u.ExternalKey, DisplayName: u.DisplayName, Email: u.Email}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "external_key")).Create(&row).Error
}

// UpsertWorkflow inserts or updates a workflow definition.
func (c *CatalogStore) UpsertWorkflow(w *pipeline.Workflow) error {
	row := workflowRow{TenantID: w.TenantID, ID: w.ID, Name: w.Name}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "id")).Create(&row).Error
}

// UpsertStatus inserts or updates a workflow status.
func (c *CatalogStore) UpsertStatus(s *pipeline.Status) error {
	row := statusRow{TenantID: s.TenantID, ID: s.ID, WorkflowID: s.WorkflowID, Name: s.Name}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "id")).Create(&row).Error
}

// UpsertMapping inserts or updates an external-status-to-canonical-state mapping.
func (c *CatalogStore) UpsertMapping(m *pipeline.Mapping) error {
	row := mappingRow{TenantID: m.TenantID, ExternalStatus: m.ExternalStatus, CanonicalState: m.CanonicalState}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "external_status")).Create(&row).Error
}

// Mappings fetches every external-status-to-canonical-state mapping
// configured for a tenant, used by the Transform Worker to resolve raw
// status strings before a work item is upserted (§4.4).
func (c *CatalogStore) Mappings(tenantID int64) (map[string]string, error) {
	var rows []mappingRow
	if err := c.db.Where("tenant_id = ?", tenantID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ExternalStatus] = r.CanonicalState
	}
	return out, nil
}

// UpsertHierarchy inserts or updates a parent/child work item relationship.
func (c *CatalogStore) UpsertHierarchy(h *pipeline.Hierarchy) error {
	row := hierarchyRow{TenantID: h.TenantID, ParentExternal: h.ParentExternal, ChildExternal: h.ChildExternal}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "parent_external", "child_external")).Create(&row).Error
}

// UpsertWorkItem inserts or updates a work item, including the workflow
// metrics the Transform Worker derives from the changelog.
func (c *CatalogStore) UpsertWorkItem(w *pipeline.WorkItem) error {
	row := workItemRow{
		TenantID: w.TenantID, ExternalKey: w.ExternalKey, ProjectExternalKey: w.ProjectExternalKey,
		AssigneeExternalKey: w.AssigneeExternalKey, Status: w.Status, WorkflowID: w.WorkflowID,
		Priority: w.Priority, Summary: w.Summary, Description: w.Description,
		AcceptanceCriteria: w.AcceptanceCriteria, LeadTimeMinutes: w.LeadTimeMinutes,
		WorkStartsCount: w.WorkStartsCount, ReworkIndicator: w.ReworkIndicator,
		WorkflowComplexity: w.WorkflowComplexity, ParseError: w.ParseError, UpdatedAt: w.UpdatedAt,
	}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "external_key")).Create(&row).Error
}

// UpsertPullRequest inserts or updates a source-control pull request.
func (c *CatalogStore) UpsertPullRequest(pr *pipeline.PullRequest) error {
	row := pullRequestRow{
		TenantID: pr.TenantID, ExternalID: pr.ExternalID, Repository: pr.Repository,
		AuthorExternalKey: pr.AuthorExternalKey, OpenedAt: pr.OpenedAt, MergedAt: pr.MergedAt,
		ClosedAt: pr.ClosedAt, UpdatedAt: pr.UpdatedAt,
	}
	return c.db.Clauses(onConflictUpdateAll("tenant_id", "external_id")).Create(&row).Error
}

// UpsertLink inserts a work-item/pull-request association. Idempotent:
// re-linking the same pair is a no-op.
func (c *CatalogStore) UpsertLink(l *pipeline.WorkItemPullRequestLink) error {
	row := linkRow{TenantID: l.TenantID, WorkItemExternalKey: l.WorkItemExternalKey, PullRequestExternalID: l.PullRequestExternalID}
	return c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// GetWorkItem fetches one work item by its tenant-scoped external key, used
// by the Load Worker to compare a work item's text fingerprint before an
// upsert and by the Vectorize Worker to read the text it embeds.
func (c *CatalogStore) GetWorkItem(tenantID int64, externalKey string) (*pipeline.WorkItem, error) {
	var row workItemRow
	err := c.db.Where("tenant_id = ? AND external_key = ?", tenantID, externalKey).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &pipeline.WorkItem{
		TenantID: row.TenantID, ExternalKey: row.ExternalKey, ProjectExternalKey: row.ProjectExternalKey,
		AssigneeExternalKey: row.AssigneeExternalKey, Status: row.Status, WorkflowID: row.WorkflowID,
		Priority: row.Priority, Summary: row.Summary, Description: row.Description,
		AcceptanceCriteria: row.AcceptanceCriteria, LeadTimeMinutes: row.LeadTimeMinutes,
		WorkStartsCount: row.WorkStartsCount, ReworkIndicator: row.ReworkIndicator,
		WorkflowComplexity: row.WorkflowComplexity, ParseError: row.ParseError, UpdatedAt: row.UpdatedAt,
	}, nil
}
